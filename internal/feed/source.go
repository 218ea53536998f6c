package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"unycop-connector/internal/model"
)

// Source opens a fresh stream over the feed. Every chunk reopens the feed
// and scans from the top, so Open must be repeatable.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	// ID identifies the feed; used to key run locks.
	ID() string
}

// FileSource reads the feed from the local filesystem.
type FileSource struct {
	Path string
}

// Open returns model.ErrFeedNotFound when the file does not exist.
func (s FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", model.ErrFeedNotFound, s.Path)
		}
		return nil, fmt.Errorf("opening feed %s: %w", s.Path, err)
	}
	return f, nil
}

func (s FileSource) ID() string {
	return "file:" + s.Path
}

// BytesSource serves a feed held in memory.
type BytesSource struct {
	Name string
	Data []byte
}

func (s BytesSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if s.Data == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrFeedNotFound, s.Name)
	}
	return io.NopCloser(bytes.NewReader(s.Data)), nil
}

func (s BytesSource) ID() string {
	return "bytes:" + s.Name
}
