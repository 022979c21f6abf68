// Package client assembles the stores into the root container that a
// presentation layer drives.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/communities"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/credentials"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/database"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/messages"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/posts"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/session"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/state"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/transport"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/users"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/validation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// ErrDisposed is returned by operations on a disposed container.
var ErrDisposed = errors.New("client: disposed")

// Config describes the container's collaborators.
type Config struct {
	BaseURL           string
	HTTPClient        *http.Client
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int

	// Credentials overrides the durable token store. When nil, CredentialsPath
	// selects a SQLite file, and an empty path keeps tokens in memory.
	Credentials     credentials.Store
	CredentialsPath string

	FeedPageSize    int
	MessagePageSize int
	PollInterval    time.Duration

	Logger *zap.Logger
	Clock  func() time.Time
}

// Client is the root container. It owns one instance of every store, the
// change dispatcher and the credential database.
type Client struct {
	session     *session.Store
	posts       *posts.Store
	communities *communities.Store
	messages    *messages.Store
	users       *users.Store

	dispatcher   *state.Dispatcher
	database     *gorm.DB
	logger       *zap.Logger
	pollInterval time.Duration

	mu         sync.Mutex
	disposed   bool
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New builds every store and wires the cross-store effects: the transport
// reads tokens from the session, logout clears every other store, and a
// profile update of the signed-in user replaces the session's user.
func New(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	creds, db, err := openCredentials(cfg, logger)
	if err != nil {
		return nil, err
	}

	caller, err := transport.NewClient(transport.Config{
		BaseURL:           cfg.BaseURL,
		HTTPClient:        cfg.HTTPClient,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		Logger:            logger.Named("transport"),
	})
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}

	dispatcher := state.NewDispatcher(0)
	validator := validation.New()

	sessionStore, err := session.NewStore(session.Config{
		Caller:      caller,
		Credentials: creds,
		Validator:   validator,
		Publisher:   dispatcher,
		Logger:      logger.Named(session.StoreName),
		Clock:       cfg.Clock,
	})
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	caller.SetTokenSource(sessionStore)

	container := &Client{
		session:      sessionStore,
		dispatcher:   dispatcher,
		database:     db,
		logger:       logger,
		pollInterval: cfg.PollInterval,
	}

	container.posts, err = posts.NewStore(posts.Config{
		Caller:    caller,
		Session:   sessionStore,
		Validator: validator,
		Publisher: dispatcher,
		Logger:    logger.Named(posts.StoreName),
		PageSize:  cfg.FeedPageSize,
	})
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	container.communities, err = communities.NewStore(communities.Config{
		Caller:    caller,
		Session:   sessionStore,
		Validator: validator,
		Publisher: dispatcher,
		Logger:    logger.Named(communities.StoreName),
		PageSize:  cfg.FeedPageSize,
	})
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	container.messages, err = messages.NewStore(messages.Config{
		Caller:    caller,
		Session:   sessionStore,
		Validator: validator,
		Publisher: dispatcher,
		Logger:    logger.Named(messages.StoreName),
		PageSize:  cfg.MessagePageSize,
	})
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	container.users, err = users.NewStore(users.Config{
		Caller:           caller,
		Session:          sessionStore,
		Validator:        validator,
		Publisher:        dispatcher,
		Logger:           logger.Named(users.StoreName),
		PageSize:         cfg.FeedPageSize,
		OnProfileUpdated: sessionStore.ReplaceCurrentUser,
	})
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}

	sessionStore.RegisterTeardown(container.posts.Clear)
	sessionStore.RegisterTeardown(container.communities.Clear)
	sessionStore.RegisterTeardown(container.messages.Clear)
	sessionStore.RegisterTeardown(container.users.Clear)

	return container, nil
}

func openCredentials(cfg Config, logger *zap.Logger) (credentials.Store, *gorm.DB, error) {
	if cfg.Credentials != nil {
		return cfg.Credentials, nil, nil
	}
	if cfg.CredentialsPath == "" {
		return credentials.NewMemoryStore(), nil, nil
	}
	db, err := database.OpenSQLite(cfg.CredentialsPath, logger.Named("database"))
	if err != nil {
		return nil, nil, fmt.Errorf("client: open credentials: %w", err)
	}
	store, err := credentials.NewSQLiteStore(credentials.SQLiteStoreConfig{Database: db, Clock: cfg.Clock})
	if err != nil {
		_ = database.Close(db)
		return nil, nil, err
	}
	return store, db, nil
}

// Session returns the auth/session store.
func (c *Client) Session() *session.Store { return c.session }

// Posts returns the post store.
func (c *Client) Posts() *posts.Store { return c.posts }

// Communities returns the community store.
func (c *Client) Communities() *communities.Store { return c.communities }

// Messages returns the message store.
func (c *Client) Messages() *messages.Store { return c.messages }

// Users returns the user store.
func (c *Client) Users() *users.Store { return c.users }

// Subscribe delivers a Change whenever any store replaces or patches a slice.
func (c *Client) Subscribe(ctx context.Context) (<-chan state.Change, func()) {
	return c.dispatcher.Subscribe(ctx)
}

// Restore resumes the persisted session, if any.
func (c *Client) Restore(ctx context.Context) error {
	if c.isDisposed() {
		return ErrDisposed
	}
	return c.session.Restore(ctx)
}

// Bootstrap loads the first feed page, the community directory, the
// conversation index and the unread counter concurrently. The first failure
// is returned; the other loads still settle into their stores.
func (c *Client) Bootstrap(ctx context.Context) error {
	if c.isDisposed() {
		return ErrDisposed
	}
	if !c.session.Authenticated() {
		return state.ErrNotAuthenticated
	}
	var group errgroup.Group
	group.Go(func() error {
		return c.posts.List(ctx, posts.ListParams{Page: 1})
	})
	group.Go(func() error {
		return c.communities.List(ctx, communities.ListParams{Page: 1})
	})
	group.Go(func() error {
		return c.messages.ListConversations(ctx)
	})
	group.Go(func() error {
		return c.messages.UnreadCount(ctx)
	})
	return group.Wait()
}

// StartPolling refreshes the unread counter in the background until Dispose
// or ctx is done. Calling it again while polling is a no-op.
func (c *Client) StartPolling(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || c.pollCancel != nil {
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.pollCancel = cancel
	c.pollDone = done
	go func() {
		defer close(done)
		c.messages.PollUnread(pollCtx, c.pollInterval)
	}()
}

// Dispose stops background polling, closes every subscription and releases
// the credential database. Store contents remain readable.
func (c *Client) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	cancel, done := c.pollCancel, c.pollDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.dispatcher.Close()
	if err := database.Close(c.database); err != nil {
		c.logger.Warn("failed to close credential database", zap.Error(err))
		return err
	}
	return nil
}

func (c *Client) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}
