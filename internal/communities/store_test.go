package communities

import (
	"context"
	"net/http"
	"testing"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/model"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/state"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/transport"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/transport/transporttest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubSession struct {
	userID model.ID
}

func (s stubSession) Authenticated() bool     { return s.userID != "" }
func (s stubSession) CurrentUserID() model.ID { return s.userID }

var (
	viewerID = model.ID("u-farmer")
	grain    = model.Community{ID: "c-grain", Name: "Grain growers", MemberCount: 10}
	orchard  = model.Community{ID: "c-orchard", Name: "Orchards", MemberCount: 4, IsMember: true}
)

func listPayload(communities ...model.Community) map[string]any {
	return map[string]any{"communities": communities, "total": len(communities), "page": 1, "per_page": 20, "pages": 1}
}

func newTestStore(t *testing.T, fake *transporttest.Fake, logger *zap.Logger) *Store {
	t.Helper()
	store, err := NewStore(Config{Caller: fake, Session: stubSession{userID: viewerID}, Logger: logger})
	require.NoError(t, err)
	return store
}

func TestJoinPatchesAllListOnlyAndLeavesMineUntouched(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/communities", transporttest.JSON(listPayload(grain, orchard)))
	fake.Handle(http.MethodGet, "/communities/my", transporttest.JSON(listPayload(orchard)))
	fake.Handle(http.MethodPost, "/communities/c-grain/join", transporttest.JSON(map[string]any{"is_member": true, "member_count": 11}))
	store := newTestStore(t, fake, nil)
	require.NoError(t, store.List(context.Background(), ListParams{}))
	require.NoError(t, store.ListMine(context.Background()))

	require.NoError(t, store.ToggleMembership(context.Background(), "c-grain"))

	all, _ := store.All()
	require.Equal(t, 11, all[0].MemberCount)
	require.True(t, all[0].IsMember)
	mine := store.Mine()
	require.Len(t, mine, 1)
	require.Equal(t, orchard.ID, mine[0].ID)
	require.Equal(t, 0, fake.Count(http.MethodGet, "/communities/c-grain"))

	fake.Handle(http.MethodGet, "/communities/my", transporttest.JSON(listPayload(orchard, model.Community{ID: "c-grain", MemberCount: 11, IsMember: true})))
	require.NoError(t, store.ListMine(context.Background()))
	require.Len(t, store.Mine(), 2)
}

func TestLeavePatchesEveryResidentCopy(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/communities", transporttest.JSON(listPayload(grain, orchard)))
	fake.Handle(http.MethodGet, "/communities/my", transporttest.JSON(listPayload(orchard)))
	fake.Handle(http.MethodGet, "/communities/c-orchard", transporttest.JSON(map[string]any{"community": orchard}))
	fake.Handle(http.MethodPost, "/communities/c-orchard/join", transporttest.JSON(map[string]any{"is_member": false, "member_count": 3}))
	store := newTestStore(t, fake, nil)
	require.NoError(t, store.List(context.Background(), ListParams{}))
	require.NoError(t, store.ListMine(context.Background()))
	require.NoError(t, store.Get(context.Background(), "c-orchard"))

	require.NoError(t, store.ToggleMembership(context.Background(), "c-orchard"))

	all, _ := store.All()
	detail, ok := store.Detail()
	require.True(t, ok)
	mine := store.Mine()
	require.Len(t, mine, 1, "leaving never removes from the viewer's list")
	for _, resident := range []model.Community{all[1], mine[0], detail} {
		require.False(t, resident.IsMember)
		require.Equal(t, 3, resident.MemberCount)
	}
}

func TestFlagOnlyResponseMovesCountByOneAndCrossChecks(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/communities", transporttest.JSON(listPayload(grain)))
	fake.Handle(http.MethodPost, "/communities/c-grain/join", transporttest.JSON(map[string]any{"is_member": true}))
	fake.Gate(http.MethodGet, "/communities/c-grain")
	store := newTestStore(t, fake, nil)
	require.NoError(t, store.List(context.Background(), ListParams{}))

	done := make(chan error, 1)
	go func() { done <- store.ToggleMembership(context.Background(), "c-grain") }()
	crossCheck := fake.Next(t)

	all, _ := store.All()
	require.Equal(t, 11, all[0].MemberCount)
	require.True(t, all[0].IsMember)

	crossCheck.Respond(map[string]any{"community": model.Community{ID: "c-grain", MemberCount: 12, IsMember: true}})
	require.NoError(t, <-done)
	all, _ = store.All()
	require.Equal(t, 12, all[0].MemberCount)
}

func TestFlagOnlyResponseWithoutChangeKeepsCount(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/communities", transporttest.JSON(listPayload(orchard)))
	fake.Handle(http.MethodPost, "/communities/c-orchard/join", transporttest.JSON(map[string]any{"is_member": true}))
	fake.Handle(http.MethodGet, "/communities/c-orchard", transporttest.Fail(http.StatusInternalServerError, "Internal server error"))
	core, logs := observer.New(zapcore.WarnLevel)
	store := newTestStore(t, fake, zap.New(core))
	require.NoError(t, store.List(context.Background(), ListParams{}))

	require.NoError(t, store.ToggleMembership(context.Background(), "c-orchard"))

	all, _ := store.All()
	require.Equal(t, 4, all[0].MemberCount)
	require.Equal(t, 1, logs.FilterMessage("membership cross-check failed").Len())
}

func TestMemberCountNeverNegative(t *testing.T) {
	empty := model.Community{ID: "c-empty", MemberCount: 0, IsMember: true}
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/communities", transporttest.JSON(listPayload(empty)))
	fake.Handle(http.MethodPost, "/communities/c-empty/join", transporttest.JSON(map[string]any{"is_member": false}))
	fake.Handle(http.MethodGet, "/communities/c-empty", transporttest.JSON(map[string]any{"community": model.Community{ID: "c-empty", MemberCount: -2}}))
	store := newTestStore(t, fake, nil)
	require.NoError(t, store.List(context.Background(), ListParams{}))

	require.NoError(t, store.ToggleMembership(context.Background(), "c-empty"))
	all, _ := store.All()
	require.Equal(t, 0, all[0].MemberCount)
}

func TestMembershipFailureLeavesStateUnchanged(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/communities", transporttest.JSON(listPayload(grain)))
	fake.Handle(http.MethodPost, "/communities/c-grain/join", transporttest.Fail(http.StatusForbidden, "Community is private"))
	store := newTestStore(t, fake, nil)
	require.NoError(t, store.List(context.Background(), ListParams{}))

	err := store.ToggleMembership(context.Background(), "c-grain")
	require.Equal(t, "Community is private", transport.Message(err))
	all, _ := store.All()
	require.Equal(t, 10, all[0].MemberCount)
	require.False(t, all[0].IsMember)
	status := store.Status(GroupMembership)
	require.Equal(t, state.StatusIdle, status.Status)
	require.Error(t, status.Err)
}

func TestCreatePrependsToAllOnly(t *testing.T) {
	created := model.Community{ID: "c-new", Name: "Beekeepers", Admin: &model.User{ID: viewerID}, MemberCount: 1, IsMember: true}
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/communities", transporttest.JSON(listPayload(grain)))
	fake.Handle(http.MethodPost, "/communities", transporttest.JSON(map[string]any{"community": created}))
	fake.Handle(http.MethodGet, "/communities/c-new", transporttest.JSON(map[string]any{"community": created}))
	store := newTestStore(t, fake, nil)
	require.NoError(t, store.List(context.Background(), ListParams{Search: "grain"}))
	require.Equal(t, "grain", fake.Requests()[0].Query.Get("search"))

	_, err := store.Create(context.Background(), CreateInput{
		Name:   "Beekeepers",
		Public: true,
		Image:  &transport.File{Name: "hive.png", ContentType: "image/png", Data: []byte("x")},
	})
	require.NoError(t, err)

	all, page := store.All()
	require.Equal(t, created.ID, all[0].ID)
	require.Equal(t, 2, page.Total)
	require.Empty(t, store.Mine())

	requests := fake.Requests()
	form := requests[len(requests)-1].Form
	require.Equal(t, "true", form.Value("is_public"))
	require.Equal(t, "image", form.Files[0].Field)

	require.NoError(t, store.Get(context.Background(), "c-new"))
	require.True(t, store.IsAdmin())
}

func TestListMembersReplacesRoster(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Handle(http.MethodGet, "/communities/c-grain/members", transporttest.JSON(map[string]any{
		"members": []model.User{{ID: "u-1"}, {ID: "u-2"}},
		"total":   2, "page": 1, "per_page": 20, "pages": 1,
	}))
	store := newTestStore(t, fake, nil)

	require.NoError(t, store.ListMembers(context.Background(), "c-grain", 1))
	roster := store.Roster()
	require.Equal(t, model.ID("c-grain"), roster.CommunityID)
	require.Len(t, roster.Members, 2)
	require.Equal(t, 2, roster.Page.Total)

	store.ClearDetail()
	require.Empty(t, store.Roster().Members)
}

func TestQueriesRequireSession(t *testing.T) {
	fake := transporttest.NewFake()
	store, err := NewStore(Config{Caller: fake, Session: stubSession{}})
	require.NoError(t, err)

	require.ErrorIs(t, store.List(context.Background(), ListParams{}), state.ErrNotAuthenticated)
	require.ErrorIs(t, store.ToggleMembership(context.Background(), "c-grain"), state.ErrNotAuthenticated)
	require.Empty(t, fake.Requests())
}

func TestClearDetailDiscardsInflightDetailAndRoster(t *testing.T) {
	fake := transporttest.NewFake()
	fake.Gate(http.MethodGet, "/communities/c-grain")
	fake.Gate(http.MethodGet, "/communities/c-grain/members")
	store := newTestStore(t, fake, nil)

	detailDone := make(chan error, 1)
	go func() { detailDone <- store.Get(context.Background(), "c-grain") }()
	detailCall := fake.Next(t)
	rosterDone := make(chan error, 1)
	go func() { rosterDone <- store.ListMembers(context.Background(), "c-grain", 1) }()
	rosterCall := fake.Next(t)

	store.ClearDetail()

	rosterCall.Respond(map[string]any{"members": []model.User{{ID: "u-1"}}, "total": 1, "page": 1, "per_page": 20, "pages": 1})
	require.NoError(t, <-rosterDone)
	detailCall.Respond(map[string]any{"community": grain})
	require.NoError(t, <-detailDone)

	_, open := store.Detail()
	require.False(t, open)
	require.Empty(t, store.Roster().CommunityID)
	require.Empty(t, store.Roster().Members)
	require.Equal(t, state.StatusIdle, store.Status(GroupDetail).Status)
	require.Equal(t, state.StatusIdle, store.Status(GroupMembers).Status)
}
