// Package communities holds the community directory, the viewer's own
// communities, the open community and its member roster.
package communities

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/model"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/state"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/transport"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/validation"
	"go.uber.org/zap"
)

// StoreName identifies the community store in change notifications.
const StoreName = "communities"

// Operation groups of the community store.
const (
	GroupList       state.Group = "communities.list"
	GroupDetail     state.Group = "communities.detail"
	GroupCreate     state.Group = "communities.create"
	GroupMembership state.Group = "communities.membership"
	GroupCrossCheck state.Group = "communities.cross_check"
	GroupMine       state.Group = "communities.mine"
	GroupMembers    state.Group = "communities.members"
)

const (
	sliceDetail = "detail"

	defaultPageSize = 20
)

var errMissingCaller = errors.New("communities: caller required")

// Config describes the dependencies of the community store.
type Config struct {
	Caller    transport.Caller
	Session   state.SessionReader
	Validator *validation.Validator
	Publisher state.Publisher
	Logger    *zap.Logger
	PageSize  int
}

// ListParams filters and pages the directory.
type ListParams struct {
	Search  string
	Page    int
	PerPage int
}

// CreateInput is a new community.
type CreateInput struct {
	Name        string          `json:"name" validate:"required,min=3,max=100"`
	Description string          `json:"description" validate:"max=1000"`
	Public      bool            `json:"is_public"`
	Image       *transport.File `json:"-"`
}

// Roster is one page of a community's members.
type Roster struct {
	CommunityID model.ID
	Members     []model.User
	Page        model.Page
}

// Store is the community store.
type Store struct {
	core      *state.Core
	caller    transport.Caller
	session   state.SessionReader
	validator *validation.Validator
	pageSize  int
	logger    *zap.Logger

	// guarded by core
	all    []model.Community
	page   model.Page
	mine   []model.Community
	detail *model.Community
	roster Roster
}

// NewStore constructs the community store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Caller == nil {
		return nil, errMissingCaller
	}
	validator := cfg.Validator
	if validator == nil {
		validator = validation.New()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	core := state.NewCore(state.CoreConfig{
		Name:      StoreName,
		Session:   cfg.Session,
		Publisher: cfg.Publisher,
		Logger:    cfg.Logger,
	})
	return &Store{
		core:      core,
		caller:    cfg.Caller,
		session:   cfg.Session,
		validator: validator,
		pageSize:  pageSize,
		logger:    core.Logger(),
	}, nil
}

type listResponse struct {
	Communities []model.Community `json:"communities"`
	model.Page
}

type communityResponse struct {
	Community model.Community `json:"community"`
}

type membershipResponse struct {
	IsMember    bool `json:"is_member"`
	MemberCount *int `json:"member_count"`
}

type membersResponse struct {
	Members []model.User `json:"members"`
	model.Page
}

// List fetches one directory page and replaces the all list.
func (s *Store) List(ctx context.Context, params ListParams) error {
	ticket, err := s.core.Begin(GroupList, state.KindQuery)
	if err != nil {
		return err
	}
	query := pageQuery(params.Page, params.PerPage, s.pageSize)
	if search := strings.TrimSpace(params.Search); search != "" {
		query.Set("search", search)
	}
	var payload listResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodGet, Path: "/communities", Query: query}, &payload)
	return s.core.Settle(ticket, callErr, func() {
		s.all = nonNil(model.CloneAll(payload.Communities))
		s.page = payload.Page
	})
}

// Get opens one community in the detail slice.
func (s *Store) Get(ctx context.Context, id model.ID) error {
	ticket, err := s.core.Begin(GroupDetail, state.KindQuery)
	if err != nil {
		return err
	}
	var payload communityResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodGet, Path: "/communities/" + id.String()}, &payload)
	return s.core.Settle(ticket, callErr, func() {
		detail := payload.Community.Clone()
		s.detail = &detail
	})
}

// Create founds a community and prepends it to the all list. The viewer's
// own list is only refreshed by ListMine.
func (s *Store) Create(ctx context.Context, input CreateInput) (model.Community, error) {
	if err := s.validator.Validate(input); err != nil {
		return model.Community{}, err
	}
	ticket, err := s.core.Begin(GroupCreate, state.KindCommand)
	if err != nil {
		return model.Community{}, err
	}
	form := &transport.Form{}
	form.Add("name", input.Name)
	form.Add("description", input.Description)
	form.Add("is_public", strconv.FormatBool(input.Public))
	if input.Image != nil {
		image := *input.Image
		image.Field = "image"
		form.Files = append(form.Files, image)
	}

	var payload communityResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodPost, Path: "/communities", Form: form}, &payload)
	settleErr := s.core.Settle(ticket, callErr, func() {
		s.all = append([]model.Community{payload.Community.Clone()}, s.all...)
		s.page.Total++
	})
	if settleErr != nil {
		return model.Community{}, settleErr
	}
	return payload.Community.Clone(), nil
}

// ToggleMembership joins or leaves community id and patches IsMember and
// MemberCount in the all list, the viewer's list and the detail. When the
// server answers with the flag only, the count moves by one on a flag change
// and a follow-up fetch cross-checks it.
func (s *Store) ToggleMembership(ctx context.Context, id model.ID) error {
	ticket, err := s.core.Begin(GroupMembership, state.KindCommand)
	if err != nil {
		return err
	}
	var payload membershipResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodPost, Path: "/communities/" + id.String() + "/join"}, &payload)
	settleErr := s.core.Settle(ticket, callErr, func() {
		s.patch(id, func(community *model.Community) {
			if payload.MemberCount != nil {
				community.IsMember = payload.IsMember
				community.MemberCount = model.NonNegative(*payload.MemberCount)
				return
			}
			if community.IsMember == payload.IsMember {
				return
			}
			community.IsMember = payload.IsMember
			if payload.IsMember {
				community.MemberCount++
			} else {
				community.MemberCount = model.NonNegative(community.MemberCount - 1)
			}
		})
	})
	if settleErr != nil || callErr != nil || payload.MemberCount != nil {
		return settleErr
	}
	if err := s.crossCheck(ctx, id); err != nil {
		s.logger.Warn("membership cross-check failed",
			zap.String("operation", string(GroupCrossCheck)),
			zap.String("reason", "refetch"),
			zap.String("community_id", id.String()),
			zap.Error(err))
	}
	return nil
}

func (s *Store) crossCheck(ctx context.Context, id model.ID) error {
	ticket, err := s.core.Begin(GroupCrossCheck, state.KindCommand)
	if err != nil {
		return err
	}
	var payload communityResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodGet, Path: "/communities/" + id.String()}, &payload)
	return s.core.Settle(ticket, callErr, func() {
		s.patch(id, func(community *model.Community) {
			community.IsMember = payload.Community.IsMember
			community.MemberCount = model.NonNegative(payload.Community.MemberCount)
		})
	})
}

// ListMine replaces the viewer's own communities.
func (s *Store) ListMine(ctx context.Context) error {
	ticket, err := s.core.Begin(GroupMine, state.KindQuery)
	if err != nil {
		return err
	}
	var payload listResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodGet, Path: "/communities/my"}, &payload)
	return s.core.Settle(ticket, callErr, func() {
		s.mine = nonNil(model.CloneAll(payload.Communities))
	})
}

// ListMembers replaces the roster with one page of members of id.
func (s *Store) ListMembers(ctx context.Context, id model.ID, page int) error {
	ticket, err := s.core.Begin(GroupMembers, state.KindQuery)
	if err != nil {
		return err
	}
	var payload membersResponse
	request := transport.Request{
		Method: http.MethodGet,
		Path:   "/communities/" + id.String() + "/members",
		Query:  pageQuery(page, 0, s.pageSize),
	}
	callErr := s.caller.Call(ctx, request, &payload)
	return s.core.Settle(ticket, callErr, func() {
		members := model.CloneAll(payload.Members)
		if members == nil {
			members = []model.User{}
		}
		s.roster = Roster{CommunityID: id, Members: members, Page: payload.Page}
	})
}

// All returns a copy of the directory page and its metadata.
func (s *Store) All() ([]model.Community, model.Page) {
	var (
		communities []model.Community
		page        model.Page
	)
	s.core.View(func() {
		communities = model.CloneAll(s.all)
		page = s.page
	})
	return communities, page
}

// Mine returns a copy of the viewer's communities.
func (s *Store) Mine() []model.Community {
	var communities []model.Community
	s.core.View(func() {
		communities = model.CloneAll(s.mine)
	})
	return communities
}

// Detail returns the open community.
func (s *Store) Detail() (model.Community, bool) {
	var (
		community model.Community
		ok        bool
	)
	s.core.View(func() {
		if s.detail != nil {
			community, ok = s.detail.Clone(), true
		}
	})
	return community, ok
}

// Roster returns a copy of the member roster.
func (s *Store) Roster() Roster {
	var roster Roster
	s.core.View(func() {
		roster = Roster{CommunityID: s.roster.CommunityID, Members: model.CloneAll(s.roster.Members), Page: s.roster.Page}
	})
	return roster
}

// IsAdmin reports whether the signed-in user administers the open community.
func (s *Store) IsAdmin() bool {
	var admin model.ID
	s.core.View(func() {
		if s.detail != nil && s.detail.Admin != nil {
			admin = s.detail.Admin.ID
		}
	})
	return admin != "" && s.session != nil && admin == s.session.CurrentUserID()
}

// Status returns the request status of group.
func (s *Store) Status(group state.Group) state.OpState {
	return s.core.State(group)
}

// ClearDetail closes the open community and its roster, discarding detail
// and roster fetches that are still in flight.
func (s *Store) ClearDetail() {
	s.core.Supersede(sliceDetail, func() {
		s.detail = nil
		s.roster = Roster{}
	}, GroupDetail, GroupMembers)
}

// Clear drops every slice and invalidates outstanding requests.
func (s *Store) Clear() {
	s.core.Reset(func() {
		s.all = nil
		s.page = model.Page{}
		s.mine = nil
		s.detail = nil
		s.roster = Roster{}
	})
}

// patch applies fn to every resident copy of community id.
func (s *Store) patch(id model.ID, fn func(community *model.Community)) {
	for _, list := range [][]model.Community{s.all, s.mine} {
		if index := slices.IndexFunc(list, func(community model.Community) bool { return community.ID == id }); index >= 0 {
			fn(&list[index])
		}
	}
	if s.detail != nil && s.detail.ID == id {
		fn(s.detail)
	}
}

func pageQuery(page, perPage, defaultPerPage int) url.Values {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))
	return query
}

func nonNil(communities []model.Community) []model.Community {
	if communities == nil {
		return []model.Community{}
	}
	return communities
}
