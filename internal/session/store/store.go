// Package store provides the pluggable session persistence providers:
// in-memory for tests and ephemeral runs, file-backed for local durability,
// and Redis for shared deployments. All providers round-trip sessions
// through JSON, so a loaded session never aliases the stored one.
package store

import (
	"context"

	"github.com/weftworks/loom/internal/session"
)

// Store is the persistence contract. Get returns a SessionNotFoundError
// (pkg/errors) for unknown ids; List returns ids sorted lexically,
// optionally filtered by prefix.
type Store interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	Save(ctx context.Context, s *session.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, prefix string) ([]string, error)
}
