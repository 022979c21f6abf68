// Package session owns the credential lifecycle: register, login, restore
// and logout. It is the identity every other store reads through
// state.SessionReader, and the token source of the transport.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/auth"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/credentials"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/model"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/state"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/transport"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/validation"
	"go.uber.org/zap"
)

// StoreName identifies the session store in change notifications.
const StoreName = "session"

// Operation groups of the session store.
const (
	GroupRegister state.Group = "session.register"
	GroupLogin    state.Group = "session.login"
	GroupRestore  state.Group = "session.restore"
	GroupMe       state.Group = "session.me"
	GroupLogout   state.Group = "session.logout"
)

const (
	sliceSession  = "session"
	sliceRedirect = "redirect"
)

var (
	// ErrNoStoredSession indicates Restore found no usable credentials.
	ErrNoStoredSession = errors.New("session: no stored credentials")
	// ErrSuperseded indicates a login or registration whose result was
	// discarded because a newer one, or a logout, was issued meanwhile.
	ErrSuperseded = errors.New("session: superseded by a newer request")

	errMissingCaller      = errors.New("session: caller required")
	errMissingCredentials = errors.New("session: credential store required")
)

// Credentials are the login form values.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=80"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	UserType string `json:"user_type" validate:"required,oneof=farmer expert supplier buyer"`
	FullName string `json:"full_name,omitempty" validate:"max=120"`
	Bio      string `json:"bio,omitempty"`
	Location string `json:"location,omitempty" validate:"max=120"`
}

// Session is the live identity: the credential pair and the current-user summary.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         model.User
}

// Config describes the dependencies of the session store.
type Config struct {
	Caller      transport.Caller
	Credentials credentials.Store
	Validator   *validation.Validator
	Publisher   state.Publisher
	Logger      *zap.Logger
	Clock       func() time.Time
}

// Store is the auth/session store.
type Store struct {
	core      *state.Core
	caller    transport.Caller
	creds     credentials.Store
	validator *validation.Validator
	clock     func() time.Time
	logger    *zap.Logger

	// guarded by core
	tokens   credentials.Pair
	user     *model.User
	redirect bool

	teardownMu sync.Mutex
	teardowns  []func()
}

// NewStore constructs the session store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Caller == nil {
		return nil, errMissingCaller
	}
	if cfg.Credentials == nil {
		return nil, errMissingCredentials
	}
	validator := cfg.Validator
	if validator == nil {
		validator = validation.New()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &Store{
		caller:    cfg.Caller,
		creds:     cfg.Credentials,
		validator: validator,
		clock:     clock,
		logger:    logger,
	}
	store.core = state.NewCore(state.CoreConfig{
		Name:      StoreName,
		Session:   store,
		Publisher: cfg.Publisher,
		Logger:    logger,
	})
	return store, nil
}

type authResponse struct {
	User         model.User `json:"user"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
}

type meResponse struct {
	User model.User `json:"user"`
}

// Register creates an account and signs it in.
func (s *Store) Register(ctx context.Context, input RegisterInput) error {
	if err := s.validator.Validate(input); err != nil {
		return err
	}
	return s.authenticate(ctx, GroupRegister, "/auth/register", input)
}

// Login exchanges credentials for a session. A failure leaves any prior
// session untouched and returns a *transport.Failure.
//
// Overlapping logins follow the last-issued rule: an older login that
// settles after a newer one was issued is discarded and returns
// ErrSuperseded, since its session was never applied.
func (s *Store) Login(ctx context.Context, creds Credentials) error {
	if err := s.validator.Validate(creds); err != nil {
		return err
	}
	return s.authenticate(ctx, GroupLogin, "/auth/login", creds)
}

func (s *Store) authenticate(ctx context.Context, group state.Group, path string, body any) error {
	ticket := s.core.BeginAnonymous(group, state.KindQuery)
	var payload authResponse
	err := s.caller.Call(ctx, transport.Request{Method: http.MethodPost, Path: path, Body: body, Anonymous: true}, &payload)
	if err == nil && payload.AccessToken == "" {
		err = &transport.Failure{Status: http.StatusOK, Message: "Login response carried no credentials"}
	}

	var (
		applied    bool
		persistErr error
	)
	settleErr := s.core.Settle(ticket, err, func() {
		applied = true
		pair := credentials.Pair{AccessToken: payload.AccessToken, RefreshToken: payload.RefreshToken}
		user := payload.User
		s.tokens = pair
		s.user = &user
		s.redirect = true
		persistErr = credentials.SavePair(ctx, s.creds, pair)
	})
	if settleErr != nil {
		return settleErr
	}
	if !applied {
		return ErrSuperseded
	}
	if persistErr != nil {
		s.logError(string(group), "persist_credentials", persistErr)
		return fmt.Errorf("session: persist credentials: %w", persistErr)
	}
	return nil
}

// Restore revives a session from durable storage. Credentials whose refresh
// token has already expired are discarded without a call; an expired access
// token is left to the transport's refresh path.
func (s *Store) Restore(ctx context.Context) error {
	pair, err := credentials.LoadPair(ctx, s.creds)
	if errors.Is(err, credentials.ErrNotFound) || (err == nil && pair.Empty()) {
		return ErrNoStoredSession
	}
	if err != nil {
		return err
	}
	if s.refreshExpired(pair) {
		s.logger.Info("stored session expired", zap.String("operation", string(GroupRestore)))
		if clearErr := credentials.ClearPair(ctx, s.creds); clearErr != nil {
			s.logError(string(GroupRestore), "clear_credentials", clearErr)
		}
		return ErrNoStoredSession
	}

	ticket := s.core.BeginAnonymous(GroupRestore, state.KindQuery)
	s.core.View(func() {
		s.tokens = pair
	})

	var payload meResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodGet, Path: "/auth/me"}, &payload)
	settleErr := s.core.Settle(ticket, callErr, func() {
		user := payload.User
		s.user = &user
	})
	if settleErr == nil {
		return nil
	}

	s.core.Mutate(sliceSession, func() {
		if s.user == nil {
			s.tokens = credentials.Pair{}
		}
	})
	var failure *transport.Failure
	if errors.As(settleErr, &failure) && failure.Unauthorized() {
		if clearErr := credentials.ClearPair(ctx, s.creds); clearErr != nil {
			s.logError(string(GroupRestore), "clear_credentials", clearErr)
		}
	}
	return settleErr
}

func (s *Store) refreshExpired(pair credentials.Pair) bool {
	now := s.clock()
	if pair.RefreshToken == "" {
		info, err := auth.ParseClaims(pair.AccessToken)
		return err == nil && info.Expired(now)
	}
	info, err := auth.ParseClaims(pair.RefreshToken)
	return err == nil && info.Expired(now)
}

// Me refreshes the current-user summary.
func (s *Store) Me(ctx context.Context) error {
	ticket, err := s.core.Begin(GroupMe, state.KindQuery)
	if err != nil {
		return err
	}
	var payload meResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodGet, Path: "/auth/me"}, &payload)
	return s.core.Settle(ticket, callErr, func() {
		if s.user == nil {
			return
		}
		user := payload.User
		s.user = &user
	})
}

// Logout ends the session. The server is told only while a session is live,
// and only on a best-effort basis. The durable keys are removed and every
// registered teardown runs in all cases, so a stored session that could not
// be restored is still forgotten.
func (s *Store) Logout(ctx context.Context) error {
	if s.Authenticated() {
		if err := s.caller.Call(ctx, transport.Request{Method: http.MethodPost, Path: "/auth/logout"}, nil); err != nil {
			s.logger.Info("logout call failed",
				zap.String("operation", string(GroupLogout)),
				zap.String("reason", "server_logout"),
				zap.Error(err))
		}
	}

	clearErr := credentials.ClearPair(ctx, s.creds)
	if clearErr != nil {
		s.logError(string(GroupLogout), "clear_credentials", clearErr)
	}

	s.core.Reset(func() {
		s.tokens = credentials.Pair{}
		s.user = nil
		s.redirect = false
	})

	s.teardownMu.Lock()
	teardowns := append([]func(){}, s.teardowns...)
	s.teardownMu.Unlock()
	for _, teardown := range teardowns {
		teardown()
	}

	if clearErr != nil {
		return fmt.Errorf("session: clear credentials: %w", clearErr)
	}
	return nil
}

// RegisterTeardown adds a callback run by Logout after the session is cleared.
func (s *Store) RegisterTeardown(teardown func()) {
	if teardown == nil {
		return
	}
	s.teardownMu.Lock()
	defer s.teardownMu.Unlock()
	s.teardowns = append(s.teardowns, teardown)
}

// ReplaceCurrentUser swaps the current-user summary when user is the signed-in user.
func (s *Store) ReplaceCurrentUser(user model.User) {
	s.core.Mutate(sliceSession, func() {
		if s.user == nil || s.user.ID != user.ID {
			return
		}
		replacement := user
		s.user = &replacement
	})
}

// AcknowledgeRedirect clears the redirect-eligible flag once the presentation acted on it.
func (s *Store) AcknowledgeRedirect() {
	s.core.Mutate(sliceRedirect, func() {
		s.redirect = false
	})
}

// Authenticated implements state.SessionReader.
func (s *Store) Authenticated() bool {
	var live bool
	s.core.View(func() {
		live = s.user != nil && s.tokens.AccessToken != ""
	})
	return live
}

// CurrentUserID implements state.SessionReader.
func (s *Store) CurrentUserID() model.ID {
	var id model.ID
	s.core.View(func() {
		if s.user != nil {
			id = s.user.ID
		}
	})
	return id
}

// AccessToken implements transport.TokenSource.
func (s *Store) AccessToken() string {
	var token string
	s.core.View(func() {
		token = s.tokens.AccessToken
	})
	return token
}

// RefreshToken implements transport.TokenSource.
func (s *Store) RefreshToken() string {
	var token string
	s.core.View(func() {
		token = s.tokens.RefreshToken
	})
	return token
}

// SetAccessToken implements transport.TokenSource. The rotated token is
// persisted so a restart resumes with it.
func (s *Store) SetAccessToken(token string) {
	var live bool
	s.core.View(func() {
		if s.tokens.AccessToken == "" {
			return
		}
		s.tokens.AccessToken = token
		live = true
	})
	if !live {
		return
	}
	if err := s.creds.Put(context.Background(), credentials.KeyAccessToken, token); err != nil {
		s.logError("session.refresh", "persist_credentials", err)
	}
}

// Session returns a copy of the live session.
func (s *Store) Session() (Session, bool) {
	var (
		current Session
		ok      bool
	)
	s.core.View(func() {
		if s.user == nil {
			return
		}
		current = Session{AccessToken: s.tokens.AccessToken, RefreshToken: s.tokens.RefreshToken, User: s.user.Clone()}
		ok = true
	})
	return current, ok
}

// CurrentUser returns the current-user summary.
func (s *Store) CurrentUser() (model.User, bool) {
	current, ok := s.Session()
	return current.User, ok
}

// RedirectEligible reports whether a login just succeeded and the
// presentation may navigate away from the login form.
func (s *Store) RedirectEligible() bool {
	var eligible bool
	s.core.View(func() {
		eligible = s.redirect
	})
	return eligible
}

// Status returns the request status of group.
func (s *Store) Status(group state.Group) state.OpState {
	return s.core.State(group)
}

func (s *Store) logError(operation, reason string, err error) {
	s.logger.Error("session operation failed",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err))
}
