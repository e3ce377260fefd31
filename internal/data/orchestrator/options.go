// File path: internal/data/orchestrator/options.go
package orchestrator

import (
	"github.com/devtrail/devtrail/internal/llm"
	"github.com/devtrail/devtrail/internal/store"
)

type Option func(*options)

type options struct {
	store    *store.Store
	provider llm.Provider
}

// WithStore injects an already-open store. Primarily used in tests.
func WithStore(st *store.Store) Option {
	return func(o *options) {
		o.store = st
	}
}

// WithProvider injects an LLM provider instead of the environment-
// selected one.
func WithProvider(provider llm.Provider) Option {
	return func(o *options) {
		o.provider = provider
	}
}
