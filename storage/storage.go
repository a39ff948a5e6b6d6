package storage

import (
	"context"
	"errors"
	"fmt"
	"footage-flow/entities"
	"footage-flow/pkg/ffmpeg"
	"footage-flow/provider"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrUnknownVideo   = errors.New("video not registered")
	ErrObjectNotFound = errors.New("object not found")
)

const RenderPrefix = "renders"

type VideoLookup interface {
	FindVideo(ctx context.Context, id string) (*entities.Video, error)
}

type ProbeFunc func(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)

// MinioSourceStore resolves uploaded videos to local files.
type MinioSourceStore struct {
	client *minio.Client
	bucket string
	videos VideoLookup
	probe  ProbeFunc
}

func NewMinioSourceStore(client *minio.Client, bucket string, videos VideoLookup) *MinioSourceStore {
	return &MinioSourceStore{
		client: client,
		bucket: bucket,
		videos: videos,
		probe:  ffmpeg.Probe,
	}
}

// Fetch downloads the upload into dir and probes it. Any error means the
// source bytes cannot be used.
func (s *MinioSourceStore) Fetch(ctx context.Context, videoID, dir string) (*provider.Media, error) {
	video, err := s.videos.FindVideo(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnknownVideo, videoID, err)
	}

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}

	name := filepath.Base(video.ObjectName)
	if video.Filename != "" {
		name = filepath.Base(video.Filename)
	}
	local := filepath.Join(dir, videoID+"_"+name)

	zerolog.Ctx(ctx).Debug().Str("video_id", videoID).Str("object", video.ObjectName).Msg("downloading source")
	err = s.client.FGetObject(ctx, s.bucket, video.ObjectName, local, minio.GetObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, video.ObjectName)
		}
		return nil, fmt.Errorf("download %s: %w", video.ObjectName, err)
	}

	return describe(ctx, s.probe, videoID, local, video.Duration)
}

func describe(ctx context.Context, probe ProbeFunc, videoID, local string, knownDuration float64) (*provider.Media, error) {
	info, err := os.Stat(local)
	if err != nil {
		return nil, err
	}
	probed, err := probe(ctx, local)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", videoID, err)
	}
	duration := probed.Duration
	if duration <= 0 {
		duration = knownDuration
	}

	return &provider.Media{
		VideoID:  videoID,
		Path:     local,
		Duration: duration,
		Size:     info.Size(),
		HasAudio: probed.HasAudio,
		WorkDir:  filepath.Dir(local),
	}, nil
}

// MinioArtifactStore keeps rendered stories under the renders/ prefix.
type MinioArtifactStore struct {
	client    *minio.Client
	bucket    string
	publicURL func(p string) string
}

func NewMinioArtifactStore(client *minio.Client, bucket string, publicURL func(p string) string) *MinioArtifactStore {
	return &MinioArtifactStore{client: client, bucket: bucket, publicURL: publicURL}
}

// Put uploads a finished file and returns the URL it is served from.
func (s *MinioArtifactStore) Put(ctx context.Context, localPath, name string) (string, error) {
	key := path.Join(RenderPrefix, name)
	_, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{ContentType: "video/mp4"})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	zerolog.Ctx(ctx).Info().Str("object", key).Msg("render uploaded")
	return s.publicURL("/" + key), nil
}

// Open streams a stored render. The caller closes the reader.
func (s *MinioArtifactStore) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return nil, 0, ErrObjectNotFound
	}
	obj, err := s.client.GetObject(ctx, s.bucket, path.Join(RenderPrefix, name), minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, err
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, 0, ErrObjectNotFound
		}
		return nil, 0, err
	}
	return obj, info.Size, nil
}
