// Package session binds an authenticated identity to the messaging core.
// A Context owns at most one Messenger; replacing or clearing the identity
// disposes it completely.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/glide/internal/bus"
	"github.com/matheus3301/glide/internal/clock"
	"github.com/matheus3301/glide/internal/conn"
	"github.com/matheus3301/glide/internal/model"
	"github.com/matheus3301/glide/internal/store"
)

// Config wires a Context.
type Config struct {
	// API returns the REST client for a bearer token.
	API func(token string) API
	// Transport returns the push channel transport for a bearer token.
	Transport func(token string) conn.Transport
	// Store is the local cache. Optional.
	Store    *store.DB
	Bus      *bus.Bus
	Clock    clock.Clock
	Logger   *zap.Logger
	Settings Settings
}

// Context holds the current identity and its Messenger.
type Context struct {
	cfg Config
	log *zap.Logger

	mu    sync.Mutex
	unit  *Messenger
	token string
}

// NewContext returns a Context with nobody signed in.
func NewContext(cfg Config) *Context {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Context{cfg: cfg, log: cfg.Logger.Named("session")}
}

// SetIdentity signs in as id. A different identity or token replaces the
// current Messenger after disposing it; the same identity with the same
// token is a no-op.
func (c *Context) SetIdentity(id model.Identity, token string) (*Messenger, error) {
	if id.IsZero() {
		return nil, errors.New("session: identity without id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unit != nil && c.unit.self.ID == id.ID && c.token == token {
		return c.unit, nil
	}
	c.disposeLocked()

	unit := newMessenger(unitOptions{
		Self:      id,
		API:       c.cfg.API(token),
		Transport: c.cfg.Transport(token),
		Store:     c.cfg.Store,
		Bus:       c.cfg.Bus,
		Clock:     c.cfg.Clock,
		Logger:    c.cfg.Logger,
		Settings:  c.cfg.Settings,
	})
	if err := unit.start(); err != nil {
		unit.close()
		return nil, err
	}
	c.unit = unit
	c.token = token
	c.log.Info("identity set", zap.String("user_id", id.ID), zap.String("name", id.Name))
	c.cfg.Bus.Emit(bus.KindSessionIdentity, id)
	return unit, nil
}

// Login resolves the identity behind token and signs in as it.
func (c *Context) Login(ctx context.Context, token string) (*Messenger, error) {
	me, err := c.cfg.API(token).Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	return c.SetIdentity(me.ToModel(), token)
}

// Clear signs out. Nothing of the previous identity survives.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unit == nil {
		return
	}
	c.disposeLocked()
	c.cfg.Bus.Emit(bus.KindSessionIdentity, model.Identity{})
}

func (c *Context) disposeLocked() {
	if c.unit == nil {
		return
	}
	c.log.Info("disposing session", zap.String("user_id", c.unit.self.ID))
	c.unit.close()
	c.unit = nil
	c.token = ""
}

// Current returns the active Messenger or ErrNoIdentity.
func (c *Context) Current() (*Messenger, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unit == nil {
		return nil, ErrNoIdentity
	}
	return c.unit, nil
}
