// Package core implements the orchestrator operations: project and plan
// management, the dependency graph, the claim/lease/reservation protocol,
// the task state machine, gate evaluation, and ready-work scoring. Every
// mutation runs inside one storage transaction and appends its domain event
// before commit.
package core

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/ceruleanworks/foreman/internal/apperr"
	"github.com/ceruleanworks/foreman/internal/config"
	"github.com/ceruleanworks/foreman/internal/idgen"
	"github.com/ceruleanworks/foreman/internal/storage"
)

// Core orchestrates operations over the store. It holds no mutable state;
// all coordination happens through database transactions and row locks.
type Core struct {
	store storage.Store
	cfg   *config.Config
	clock idgen.Clock
	log   zerolog.Logger
}

// New creates a Core.
func New(store storage.Store, cfg *config.Config, clock idgen.Clock, log zerolog.Logger) *Core {
	return &Core{store: store, cfg: cfg, clock: clock, log: log}
}

// Store exposes the underlying store for the transport shell's read paths.
func (c *Core) Store() storage.Store {
	return c.store
}

// fail normalizes an error leaving an operation: coded errors pass through
// unchanged, everything else is logged and collapsed to DB_ERROR so driver
// details never reach the caller.
func (c *Core) fail(op string, err error) error {
	var coded *apperr.Error
	if errors.As(err, &coded) {
		return coded
	}
	c.log.Error().Str("op", op).Err(err).Msg("operation failed")
	return apperr.Wrap(err)
}

// notFound maps storage.ErrNotFound onto the entity's coded error; other
// errors pass through for fail to handle.
func notFound(err error, code apperr.Code, message string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.New(code, message)
	}
	return err
}

// notDuplicate maps storage.ErrDuplicate onto a coded error the same way.
func notDuplicate(err error, code apperr.Code, message string) error {
	if errors.Is(err, storage.ErrDuplicate) {
		return apperr.New(code, message)
	}
	return err
}
