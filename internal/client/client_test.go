package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/credentials"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/database"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/mockapi"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/posts"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/session"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/state"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func startPlatform(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler, _, err := mockapi.NewServer(mockapi.ServerConfig{
		SigningSecret: "integration-secret",
		PasswordCost:  bcrypt.MinCost,
		Seed:          true,
	})
	require.NoError(t, err)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func newContainer(t *testing.T, server *httptest.Server, credentialsPath string) *Client {
	t.Helper()
	container, err := New(Config{
		BaseURL:         server.URL + mockapi.APIPrefix,
		HTTPClient:      server.Client(),
		CredentialsPath: credentialsPath,
		PollInterval:    20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Dispose() })
	return container
}

func loginFarmer(t *testing.T, container *Client) {
	t.Helper()
	err := container.Session().Login(context.Background(), session.Credentials{
		Email:    mockapi.FarmerEmail,
		Password: mockapi.SeedPassword,
	})
	require.NoError(t, err)
}

func TestQueryBeforeLoginFailsWithoutNetworkCall(t *testing.T) {
	server := startPlatform(t)
	container := newContainer(t, server, "")

	err := container.Posts().List(context.Background(), posts.ListParams{Page: 1})
	require.ErrorIs(t, err, state.ErrNotAuthenticated)
	require.ErrorIs(t, container.Bootstrap(context.Background()), state.ErrNotAuthenticated)
	require.Equal(t, state.StatusIdle, container.Posts().Status(posts.GroupList).Status)
}

func TestLoginAndBootstrapLoadsEveryStore(t *testing.T) {
	server := startPlatform(t)
	container := newContainer(t, server, "")
	loginFarmer(t, container)

	user, ok := container.Session().CurrentUser()
	require.True(t, ok)
	require.Equal(t, mockapi.FarmerEmail, user.Email)
	require.True(t, container.Session().RedirectEligible())

	require.NoError(t, container.Bootstrap(context.Background()))

	feed, page := container.Posts().Feed()
	require.Len(t, feed, 20)
	require.Equal(t, mockapi.SeedPostCount, page.Total)
	require.Equal(t, 3, page.Pages)

	all, _ := container.Communities().All()
	require.Len(t, all, 2)

	conversations := container.Messages().Conversations()
	require.Len(t, conversations, 1)
	require.Equal(t, 1, container.Messages().Unread())
}

func TestLikeAndMembershipReconcileWithServerCounts(t *testing.T) {
	server := startPlatform(t)
	container := newContainer(t, server, "")
	loginFarmer(t, container)
	ctx := context.Background()
	require.NoError(t, container.Bootstrap(ctx))

	feed, _ := container.Posts().Feed()
	target := feed[0].ID
	require.NoError(t, container.Posts().ToggleLike(ctx, target))
	require.NoError(t, container.Posts().ToggleLike(ctx, target))
	liked, ok := container.Posts().Post(target)
	require.True(t, ok)
	require.False(t, liked.Liked)
	require.Equal(t, 0, liked.LikeCount)

	all, _ := container.Communities().All()
	dairy := all[0]
	for _, community := range all {
		if !community.IsMember {
			dairy = community
		}
	}
	require.False(t, dairy.IsMember)
	require.NoError(t, container.Communities().ToggleMembership(ctx, dairy.ID))
	all, _ = container.Communities().All()
	for _, community := range all {
		if community.ID == dairy.ID {
			require.True(t, community.IsMember)
			require.Equal(t, dairy.MemberCount+1, community.MemberCount)
		}
	}
}

func TestLogoutClearsStoresAndDurableKeys(t *testing.T) {
	server := startPlatform(t)
	path := filepath.Join(t.TempDir(), "credentials.db")
	container := newContainer(t, server, path)
	loginFarmer(t, container)
	ctx := context.Background()
	require.NoError(t, container.Bootstrap(ctx))

	require.NoError(t, container.Session().Logout(ctx))

	require.False(t, container.Session().Authenticated())
	feed, page := container.Posts().Feed()
	require.Empty(t, feed)
	require.Zero(t, page.Total)
	all, _ := container.Communities().All()
	require.Empty(t, all)
	require.Empty(t, container.Messages().Conversations())
	require.Zero(t, container.Messages().Unread())
	require.ErrorIs(t, container.Posts().List(ctx, posts.ListParams{Page: 1}), state.ErrNotAuthenticated)

	require.NoError(t, container.Dispose())
	db, err := database.OpenSQLite(path, nil)
	require.NoError(t, err)
	defer database.Close(db) //nolint:errcheck
	store, err := credentials.NewSQLiteStore(credentials.SQLiteStoreConfig{Database: db})
	require.NoError(t, err)
	_, err = credentials.LoadPair(ctx, store)
	require.ErrorIs(t, err, credentials.ErrNotFound)
}

func TestRestoreResumesPersistedSession(t *testing.T) {
	server := startPlatform(t)
	path := filepath.Join(t.TempDir(), "credentials.db")

	first := newContainer(t, server, path)
	loginFarmer(t, first)
	require.NoError(t, first.Dispose())

	second := newContainer(t, server, path)
	require.NoError(t, second.Restore(context.Background()))
	user, ok := second.Session().CurrentUser()
	require.True(t, ok)
	require.Equal(t, mockapi.FarmerEmail, user.Email)
}

func TestRestoreWithoutCredentialsReportsNoSession(t *testing.T) {
	server := startPlatform(t)
	container := newContainer(t, server, "")

	err := container.Restore(context.Background())
	require.True(t, errors.Is(err, session.ErrNoStoredSession), "unexpected error %v", err)
	require.False(t, container.Session().Authenticated())
}

func TestProfileUpdateReplacesSessionUser(t *testing.T) {
	server := startPlatform(t)
	container := newContainer(t, server, "")
	loginFarmer(t, container)

	updated, err := container.Users().UpdateProfile(context.Background(), users.ProfileInput{
		FullName: "Joe Q. Farmer",
		Location: "Boone, Iowa",
	})
	require.NoError(t, err)
	require.Equal(t, "Joe Q. Farmer", updated.FullName)

	current, ok := container.Session().CurrentUser()
	require.True(t, ok)
	require.Equal(t, "Joe Q. Farmer", current.FullName)
}

func TestSubscribeReceivesStoreChanges(t *testing.T) {
	server := startPlatform(t)
	container := newContainer(t, server, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, unsubscribe := container.Subscribe(ctx)
	defer unsubscribe()

	loginFarmer(t, container)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case change := <-stream:
			if change.Store == session.StoreName && change.Slice == string(session.GroupLogin) {
				return
			}
		case <-deadline:
			t.Fatal("expected a session change after login")
		}
	}
}

func TestDisposeStopsPollingAndClosesSubscriptions(t *testing.T) {
	server := startPlatform(t)
	container, err := New(Config{
		BaseURL:      server.URL + mockapi.APIPrefix,
		HTTPClient:   server.Client(),
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	loginFarmer(t, container)
	stream, _ := container.Subscribe(context.Background())

	container.StartPolling(context.Background())
	require.Eventually(t, func() bool { return container.Messages().Unread() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, container.Dispose())
	for range stream {
	}
	require.ErrorIs(t, container.Restore(context.Background()), ErrDisposed)
	require.ErrorIs(t, container.Bootstrap(context.Background()), ErrDisposed)
}
