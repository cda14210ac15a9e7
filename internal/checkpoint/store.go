// Package checkpoint keeps the feed resume token under a single durable key.
package checkpoint

import (
	"context"

	"github.com/xzhHas/configflow/internal/changefeed"
)

// Store holds the last resume token. Load returns nil when there is none or
// when the stored value can no longer be used; Save overwrites it.
type Store interface {
	Load(ctx context.Context) (changefeed.ResumeToken, error)
	Save(ctx context.Context, token changefeed.ResumeToken) error
	Close() error
}

// Validator decides whether a stored token can be resumed from.
type Validator func(changefeed.ResumeToken) error
