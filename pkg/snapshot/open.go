package snapshot

import (
	"context"
	"fmt"
	"strings"
)

// Config selects and configures a snapshot backend.
type Config struct {
	Backend Backend
	Dir     string
	Prefix  string
	S3      S3Config
}

// Open builds a Snapshotter for cfg. It returns nil, nil for BackendNone
// (or an empty backend) so callers can treat snapshots as optional.
func Open(ctx context.Context, cfg Config) (*Snapshotter, error) {
	switch Backend(strings.ToLower(string(cfg.Backend))) {
	case "", BackendNone:
		return nil, nil
	case BackendFile:
		store, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return New(store, cfg.Prefix), nil
	case BackendS3:
		store, err := NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return New(store, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q (want none, file or s3)", cfg.Backend)
	}
}
