// Package state implements the intent/reconciliation protocol shared by the
// client stores: per-group request status, last-issued-wins sequencing of
// queries, and change notification.
package state

import (
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/model"
	"go.uber.org/zap"
)

// ErrNotAuthenticated is returned before any call when an intent needs a session and none is live.
var ErrNotAuthenticated = errors.New("state: not authenticated")

// SessionReader exposes the current identity to stores that need it.
type SessionReader interface {
	Authenticated() bool
	CurrentUserID() model.ID
}

// SliceReset is the change slice published when a store drops its content.
const SliceReset = "reset"

// CoreConfig describes the shared dependencies of a store.
type CoreConfig struct {
	Name      string
	Session   SessionReader
	Publisher Publisher
	Logger    *zap.Logger
}

// Core carries the lock, tracker and notification plumbing every store
// embeds. All slice reads and writes of the owning store go through View,
// Mutate or the apply callback of Settle so they share one lock with the
// tracker.
type Core struct {
	name      string
	mu        sync.Mutex
	tracker   *Tracker
	session   SessionReader
	publisher Publisher
	logger    *zap.Logger
}

// NewCore constructs a Core, defaulting the publisher and logger to no-ops.
func NewCore(cfg CoreConfig) *Core {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = nopPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Core{
		name:      cfg.Name,
		tracker:   NewTracker(),
		session:   cfg.Session,
		publisher: publisher,
		logger:    logger,
	}
}

// Logger returns the store's logger.
func (c *Core) Logger() *zap.Logger {
	return c.logger
}

// Begin issues a ticket for an intent that requires a live session.
func (c *Core) Begin(group Group, kind Kind) (Ticket, error) {
	if c.session == nil || !c.session.Authenticated() {
		return Ticket{}, ErrNotAuthenticated
	}
	return c.BeginAnonymous(group, kind), nil
}

// BeginAnonymous issues a ticket without the session precondition.
func (c *Core) BeginAnonymous(group Group, kind Kind) Ticket {
	c.mu.Lock()
	ticket := c.tracker.Begin(group, kind)
	c.mu.Unlock()
	c.publish(string(group))
	return ticket
}

// Settle records the outcome of ticket. When the ticket is still current and
// callErr is nil, apply runs under the store lock. Stale settlements are
// dropped and reported as success so they never surface to the caller.
func (c *Core) Settle(ticket Ticket, callErr error, apply func()) error {
	c.mu.Lock()
	current := c.tracker.Finish(ticket, callErr)
	if current && callErr == nil && apply != nil {
		apply()
	}
	c.mu.Unlock()

	if !current {
		c.logger.Debug("discarded stale result",
			zap.String("store", c.name),
			zap.String("group", string(ticket.group)),
			zap.Uint64("seq", ticket.seq))
		return nil
	}
	if callErr != nil {
		c.logger.Warn("request failed",
			zap.String("store", c.name),
			zap.String("operation", string(ticket.group)),
			zap.Error(callErr))
	}
	c.publish(string(ticket.group))
	return callErr
}

// View runs fn under the store lock.
func (c *Core) View(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// Mutate runs fn under the store lock and announces a change of slice.
func (c *Core) Mutate(slice string, fn func()) {
	c.mu.Lock()
	fn()
	c.mu.Unlock()
	c.publish(slice)
}

// State returns the status of group.
func (c *Core) State(group Group) OpState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.State(group)
}

// Supersede runs clear under the lock and discards whatever the given query
// groups still have in flight, then announces a change of slice.
func (c *Core) Supersede(slice string, clear func(), groups ...Group) {
	c.mu.Lock()
	for _, group := range groups {
		c.tracker.Supersede(group)
	}
	if clear != nil {
		clear()
	}
	c.mu.Unlock()
	c.publish(slice)
}

// Reset invalidates every outstanding ticket and runs clear under the lock.
func (c *Core) Reset(clear func()) {
	c.mu.Lock()
	c.tracker.Reset()
	if clear != nil {
		clear()
	}
	c.mu.Unlock()
	c.publish(SliceReset)
}

func (c *Core) publish(slice string) {
	c.publisher.Publish(Change{Store: c.name, Slice: slice})
}
