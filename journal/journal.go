package journal

import (
	"context"

	"github.com/crmarques/reconctl/reconciler"
)

// Store keeps a history of apply runs. Recent returns runs newest first;
// restored failures carry their message and fault category but not the
// original error value.
type Store interface {
	Record(ctx context.Context, result reconciler.Result) error
	Recent(ctx context.Context, limit int) ([]reconciler.Result, error)
	Close() error
}

// Discard is used when no journal path is configured.
type Discard struct{}

func (Discard) Record(context.Context, reconciler.Result) error { return nil }

func (Discard) Recent(context.Context, int) ([]reconciler.Result, error) { return nil, nil }

func (Discard) Close() error { return nil }
