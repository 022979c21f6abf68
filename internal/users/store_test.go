package users

import (
	"context"
	"net/http"
	"testing"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/model"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/state"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/transport"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/transport/transporttest"
	"github.com/stretchr/testify/require"
)

type stubSession struct {
	userID model.ID
}

func (s stubSession) Authenticated() bool     { return s.userID != "" }
func (s stubSession) CurrentUserID() model.ID { return s.userID }

var (
	me   = model.User{ID: "u-farmer", Username: "farmer_joe"}
	agro = model.User{ID: "u-agro", Username: "agronomist", FollowerCount: 5}
)

func newTestStore(t *testing.T, fake *transporttest.Fake, hook func(model.User)) *Store {
	t.Helper()
	store, err := NewStore(Config{Caller: fake, Session: stubSession{userID: me.ID}, OnProfileUpdated: hook})
	require.NoError(t, err)
	return store
}

func TestToggleFollowUsesServerCountEverywhere(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/users/u-agro", transporttest.JSON(map[string]any{"user": agro}))
	fake.Handle(http.MethodGet, "/users/search", transporttest.JSON(map[string]any{"users": []model.User{agro}, "total": 1, "page": 1, "per_page": 20, "pages": 1}))
	fake.Handle(http.MethodPost, "/follows/u-agro/follow", transporttest.JSON(map[string]any{"is_following": true, "follower_count": 6}))
	store := newTestStore(t, fake, nil)
	require.NoError(t, store.Get(context.Background(), agro.ID))
	require.NoError(t, store.Search(context.Background(), "agro", 1))
	require.Equal(t, "agro", fake.Requests()[1].Query.Get("q"))

	require.NoError(t, store.ToggleFollow(context.Background(), agro.ID))

	profile, ok := store.Profile(agro.ID)
	require.True(t, ok)
	require.Equal(t, 6, profile.FollowerCount)
	_, results := store.SearchResults()
	require.Equal(t, 6, results.Users[0].FollowerCount)
	follow, known := store.Follow(agro.ID)
	require.True(t, known)
	require.Equal(t, FollowState{Following: true, FollowerCount: 6}, follow)
}

func TestToggleFollowWithoutCountMovesByOneOnFlagChangeOnly(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/users/u-agro", transporttest.JSON(map[string]any{"user": agro}))
	fake.Handle(http.MethodGet, "/follows/u-agro/check", transporttest.JSON(map[string]any{"is_following": false}))
	fake.Handle(http.MethodPost, "/follows/u-agro/follow", transporttest.JSON(map[string]any{"is_following": true}))
	store := newTestStore(t, fake, nil)
	require.NoError(t, store.Get(context.Background(), agro.ID))
	require.NoError(t, store.CheckFollow(context.Background(), agro.ID))

	require.NoError(t, store.ToggleFollow(context.Background(), agro.ID))
	profile, _ := store.Profile(agro.ID)
	require.Equal(t, 6, profile.FollowerCount)

	require.NoError(t, store.ToggleFollow(context.Background(), agro.ID))
	profile, _ = store.Profile(agro.ID)
	require.Equal(t, 6, profile.FollowerCount, "a repeated flag must not move the count again")
}

func TestFollowerCountNeverNegative(t *testing.T) {
	lonely := model.User{ID: "u-lonely", FollowerCount: 0}
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/users/u-lonely", transporttest.JSON(map[string]any{"user": lonely}))
	fake.Handle(http.MethodGet, "/follows/u-lonely/check", transporttest.JSON(map[string]any{"is_following": true}))
	fake.Handle(http.MethodPost, "/follows/u-lonely/follow", transporttest.JSON(map[string]any{"is_following": false}))
	store := newTestStore(t, fake, nil)
	require.NoError(t, store.Get(context.Background(), lonely.ID))
	require.NoError(t, store.CheckFollow(context.Background(), lonely.ID))

	require.NoError(t, store.ToggleFollow(context.Background(), lonely.ID))
	profile, _ := store.Profile(lonely.ID)
	require.Equal(t, 0, profile.FollowerCount)
}

func TestProfileGroupsAreIndependentPerUser(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Gate(http.MethodGet, "/users/u-agro")
	fake.Handle(http.MethodGet, "/users/u-farmer", transporttest.JSON(map[string]any{"user": me}))
	store := newTestStore(t, fake, nil)

	done := make(chan error, 1)
	go func() { done <- store.Get(context.Background(), agro.ID) }()
	call := fake.Next(t)
	require.NoError(t, store.Get(context.Background(), me.ID))
	call.Respond(map[string]any{"user": agro})
	require.NoError(t, <-done)

	_, ok := store.Profile(agro.ID)
	require.True(t, ok)
	require.Equal(t, state.StatusSettled, store.Status(ProfileGroup(agro.ID)).Status)
	require.Equal(t, state.StatusSettled, store.Status(ProfileGroup(me.ID)).Status)
}

func TestUpdateProfileReplacesCopiesAndNotifiesHook(t *testing.T) {
	updated := me
	updated.Bio = "Organic wheat since 1998"
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/users/u-farmer", transporttest.JSON(map[string]any{"user": me}))
	fake.Handle(http.MethodPut, "/users/profile", transporttest.JSON(map[string]any{"message": "Profile updated successfully", "user": updated}))
	var notified []model.User
	store := newTestStore(t, fake, func(user model.User) { notified = append(notified, user) })
	require.NoError(t, store.Get(context.Background(), me.ID))

	_, err := store.UpdateProfile(context.Background(), ProfileInput{
		Bio:   updated.Bio,
		Image: &transport.File{Name: "me.png", ContentType: "image/png", Data: []byte("x")},
	})
	require.NoError(t, err)

	profile, _ := store.Profile(me.ID)
	require.Equal(t, updated.Bio, profile.Bio)
	require.Len(t, notified, 1)
	require.Equal(t, updated.Bio, notified[0].Bio)

	requests := fake.Requests()
	form := requests[len(requests)-1].Form
	require.Equal(t, updated.Bio, form.Value("bio"))
	require.Equal(t, "profile_image", form.Files[0].Field)
}

func TestUpdateProfileFailureSkipsHook(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Handle(http.MethodPut, "/users/profile", transporttest.Fail(http.StatusInternalServerError, "Internal server error"))
	called := false
	store := newTestStore(t, fake, func(model.User) { called = true })

	_, err := store.UpdateProfile(context.Background(), ProfileInput{Bio: "x"})
	require.Error(t, err)
	require.False(t, called)
}

func TestFollowersAndFollowingLists(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/follows/u-agro/followers", transporttest.JSON(map[string]any{"followers": []model.User{me}, "total": 1, "page": 1, "per_page": 20, "pages": 1}))
	fake.Handle(http.MethodGet, "/follows/following", transporttest.JSON(map[string]any{"following": []model.User{agro}, "total": 1, "page": 1, "per_page": 20, "pages": 1}))
	store := newTestStore(t, fake, nil)

	require.NoError(t, store.ListFollowers(context.Background(), agro.ID, 1))
	require.NoError(t, store.ListFollowing(context.Background(), 1))

	of, followers := store.Followers()
	require.Equal(t, agro.ID, of)
	require.Len(t, followers.Users, 1)
	require.Equal(t, agro.ID, store.Following().Users[0].ID)
	follow, known := store.Follow(agro.ID)
	require.True(t, known)
	require.True(t, follow.Following)

	store.Clear()
	_, known = store.Follow(agro.ID)
	require.False(t, known)
	require.Empty(t, store.Following().Users)
}

func TestUserQueriesRequireSession(t *testing.T) {
	fake := transporttest.NewFake()
	store, err := NewStore(Config{Caller: fake, Session: stubSession{}})
	require.NoError(t, err)

	require.ErrorIs(t, store.Search(context.Background(), "x", 1), state.ErrNotAuthenticated)
	require.Empty(t, fake.Requests())
}
