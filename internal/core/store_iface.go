package core

import "github.com/dkeye/LiveSession/internal/domain"

// IdentityStore persists the local identity across reloads.
type IdentityStore interface {
	// Load reports false when nothing is persisted.
	Load() (domain.Identity, bool, error)
	Save(domain.Identity) error
	Clear() error
}
