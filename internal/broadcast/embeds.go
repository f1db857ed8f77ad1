package broadcast

import "fmt"

// Discord-compatible embed shapes for the moderation webhook.

type Embed struct {
	Title       string  `json:"title,omitempty"`
	URL         string  `json:"url,omitempty"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color,omitempty"`
	Author      *Author `json:"author,omitempty"`
	Thumbnail   *Image  `json:"thumbnail,omitempty"`
}

type Author struct {
	Name    string `json:"name,omitempty"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type Image struct {
	URL string `json:"url,omitempty"`
}

type webhookPayload struct {
	Embeds []Embed `json:"embeds"`
}

const (
	ColorNomination = 0x00da1d
	ColorReset      = 0xff0000
	ColorNuke       = 0xff0000
)

// BeatmapsetEmbed builds the standard embed for a moderation action on
// a set: title links to the set page, thumbnail to its cover, author
// line to the acting user.
func BeatmapsetEmbed(domain, setName string, setID int, actorName string, actorID, color int) Embed {
	return Embed{
		Title:     setName,
		URL:       fmt.Sprintf("http://osu.%s/s/%d", domain, setID),
		Thumbnail: &Image{URL: fmt.Sprintf("http://osu.%s/mt/%d", domain, setID)},
		Color:     color,
		Author: &Author{
			Name:    actorName,
			URL:     fmt.Sprintf("http://osu.%s/u/%d", domain, actorID),
			IconURL: fmt.Sprintf("http://osu.%s/a/%d", domain, actorID),
		},
	}
}
