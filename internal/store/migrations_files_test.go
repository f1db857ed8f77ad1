package store

import (
	"io/fs"
	"regexp"
	"strings"
	"testing"

	"github.com/osuTitanic/keel/db"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := fs.ReadDir(db.Migrations(), ".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations embedded")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

// ApplyMigrations globs *.up.sql against the embedded tree; an empty
// result at boot would be a packaging mistake, not a clean database.
func TestEmbeddedMigrationsAreDiscoverable(t *testing.T) {
	names, err := fs.Glob(db.Migrations(), "*.up.sql")
	if err != nil {
		t.Fatalf("glob embedded migrations: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("no up migrations embedded")
	}
	for _, name := range names {
		contents, err := fs.ReadFile(db.Migrations(), name)
		if err != nil {
			t.Fatalf("read embedded migration %s: %v", name, err)
		}
		if len(contents) == 0 {
			t.Fatalf("embedded migration %s is empty", name)
		}
	}
}

// The lifecycle engine depends on these tables existing; catch schema
// drift in the initial migration before it reaches a database.
func TestInitialMigrationCoversLifecycleTables(t *testing.T) {
	contents, err := fs.ReadFile(db.Migrations(), "0001_init.up.sql")
	if err != nil {
		t.Fatalf("read initial migration: %v", err)
	}
	schema := string(contents)

	for _, table := range []string{
		"users",
		"beatmapsets",
		"beatmaps",
		"forum_topics",
		"forum_posts",
		"nominations",
		"kudosu",
		"scores",
		"notifications",
	} {
		if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("initial migration missing table %q", table)
		}
	}

	if !strings.Contains(schema, "PRIMARY KEY (set_id, user_id)") {
		t.Error("nominations must enforce one row per (set, user) pair")
	}
}
