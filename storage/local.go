package storage

import (
	"context"
	"fmt"
	"footage-flow/pkg/ffmpeg"
	"footage-flow/provider"
	"os"
	"path/filepath"
	"strings"
)

// LocalSourceStore reads uploads from a directory mirror of the bucket.
type LocalSourceStore struct {
	root   string
	videos VideoLookup
	probe  ProbeFunc
}

func NewLocalSourceStore(root string, videos VideoLookup) *LocalSourceStore {
	return &LocalSourceStore{root: root, videos: videos, probe: ffmpeg.Probe}
}

func (s *LocalSourceStore) Fetch(ctx context.Context, videoID, dir string) (*provider.Media, error) {
	video, err := s.videos.FindVideo(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnknownVideo, videoID, err)
	}

	local := filepath.Join(s.root, filepath.FromSlash(video.ObjectName))
	rel, err := filepath.Rel(s.root, local)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, video.ObjectName)
	}
	if _, err := os.Stat(local); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, video.ObjectName)
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}

	media, err := describe(ctx, s.probe, videoID, local, video.Duration)
	if err != nil {
		return nil, err
	}
	media.WorkDir = dir
	return media, nil
}
