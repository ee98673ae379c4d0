package session

import (
	"context"

	"github.com/torwell84/torwell-verify/api"
	"github.com/torwell84/torwell-verify/log"
)

// Manager acquires sessions with fixed options.
type Manager struct {
	opts   Options
	logger *log.Logger
}

// NewManager returns a Manager acquiring sessions with opts.
func NewManager(opts Options, logger *log.Logger) *Manager {
	return &Manager{opts: opts, logger: logger}
}

// Acquire returns a page of a new session and the function releasing it.
func (m *Manager) Acquire(ctx context.Context) (api.Page, func(), error) {
	s, err := Acquire(ctx, m.opts, m.logger)
	if err != nil {
		return nil, nil, err
	}
	return s.Page(), s.Release, nil
}
