// Package storage removes beatmap binary assets from object storage.
// It is only exercised by the nuke path; uploads and downloads are
// handled by a separate service.
package storage

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type AssetStore struct {
	client *minio.Client
	bucket string
}

func New(endpoint, accessKey, secretKey, bucket string, secure bool) (*AssetStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}
	return &AssetStore{client: client, bucket: bucket}, nil
}

// RemoveSet deletes every set-level asset: the package archives, the
// background image and the audio preview. Missing objects are fine,
// RemoveObject treats them as already gone.
func (s *AssetStore) RemoveSet(ctx context.Context, setID int) error {
	keys := []string{
		fmt.Sprintf("osz/%d", setID),
		fmt.Sprintf("osz2/%d", setID),
		fmt.Sprintf("backgrounds/%d", setID),
		fmt.Sprintf("audio/%d", setID),
	}
	for _, key := range keys {
		if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	return nil
}

// RemoveBeatmap deletes the per-difficulty file.
func (s *AssetStore) RemoveBeatmap(ctx context.Context, beatmapID int) error {
	key := fmt.Sprintf("beatmaps/%d", beatmapID)
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}
