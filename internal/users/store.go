// Package users caches profiles, search results and follow relationships.
package users

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

// StoreName identifies the user store in change notifications.
const StoreName = "users"

// Operation groups of the user store. Profile and follow-check groups are
// scoped per user id with ProfileGroup and FollowCheckGroup.
const (
	GroupUpdateProfile state.Group = "users.update_profile"
	GroupSearch        state.Group = "users.search"
	GroupFollow        state.Group = "users.follow"
	GroupFollowers     state.Group = "users.followers"
	GroupFollowing     state.Group = "users.following"
)

const defaultPageSize = 20

var errMissingCaller = errors.New("users: caller required")

// ProfileGroup is the query group of one profile.
func ProfileGroup(id model.ID) state.Group {
	return state.Group("users.profile:" + id.String())
}

// FollowCheckGroup is the query group of one follow check.
func FollowCheckGroup(id model.ID) state.Group {
	return state.Group("users.follow_check:" + id.String())
}

// Config describes the dependencies of the user store.
type Config struct {
	Caller    transport.Caller
	Session   state.SessionReader
	Validator *validation.Validator
	Publisher state.Publisher
	Logger    *zap.Logger
	PageSize  int
	// OnProfileUpdated receives the signed-in user's profile after an update.
	OnProfileUpdated func(user model.User)
}

// ProfileInput is the editable part of the signed-in user's profile.
type ProfileInput struct {
	FullName      string          `json:"full_name" validate:"max=120"`
	Bio           string          `json:"bio" validate:"max=500"`
	Location      string          `json:"location" validate:"max=120"`
	ExpertiseArea string          `json:"expertise_area" validate:"max=120"`
	Image         *transport.File `json:"-"`
}

// FollowState is the viewer's relationship to one user.
type FollowState struct {
	Following     bool
	FollowerCount int
}

// UserPage is one page of users.
type UserPage struct {
	Users []model.User
	Page  model.Page
}

// Store is the user store.
type Store struct {
	core             *state.Core
	caller           transport.Caller
	validator        *validation.Validator
	pageSize         int
	onProfileUpdated func(user model.User)

	// guarded by core
	profiles    map[model.ID]model.User
	follows     map[model.ID]bool
	search      UserPage
	searchQuery string
	followers   UserPage
	followersOf model.ID
	following   UserPage
}

// NewStore constructs the user store.
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
	return &Store{
		core: state.NewCore(state.CoreConfig{
			Name:      StoreName,
			Session:   cfg.Session,
			Publisher: cfg.Publisher,
			Logger:    cfg.Logger,
		}),
		caller:           cfg.Caller,
		validator:        validator,
		pageSize:         pageSize,
		onProfileUpdated: cfg.OnProfileUpdated,
		profiles:         make(map[model.ID]model.User),
		follows:          make(map[model.ID]bool),
	}, nil
}

type userResponse struct {
	User model.User `json:"user"`
}

type followResponse struct {
	IsFollowing   bool `json:"is_following"`
	FollowerCount *int `json:"follower_count"`
}

type pageResponse struct {
	Users     []model.User `json:"users"`
	Followers []model.User `json:"followers"`
	Following []model.User `json:"following"`
	model.Page
}

// Get fetches a profile into the cache.
func (s *Store) Get(ctx context.Context, id model.ID) error {
	ticket, err := s.core.Begin(ProfileGroup(id), state.KindQuery)
	if err != nil {
		return err
	}
	var payload userResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodGet, Path: "/users/" + id.String()}, &payload)
	return s.core.Settle(ticket, callErr, func() {
		s.profiles[id] = payload.User.Clone()
	})
}

// UpdateProfile edits the signed-in user's profile and replaces every
// resident copy of it.
func (s *Store) UpdateProfile(ctx context.Context, input ProfileInput) (model.User, error) {
	if err := s.validator.Validate(input); err != nil {
		return model.User{}, err
	}
	ticket, err := s.core.Begin(GroupUpdateProfile, state.KindCommand)
	if err != nil {
		return model.User{}, err
	}
	form := &transport.Form{}
	form.Add("full_name", input.FullName)
	form.Add("bio", input.Bio)
	form.Add("location", input.Location)
	form.Add("expertise_area", input.ExpertiseArea)
	if input.Image != nil {
		image := *input.Image
		image.Field = "profile_image"
		form.Files = append(form.Files, image)
	}

	var payload userResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodPut, Path: "/users/profile", Form: form}, &payload)
	settleErr := s.core.Settle(ticket, callErr, func() {
		updated := payload.User
		s.profiles[updated.ID] = updated.Clone()
		s.eachListed(updated.ID, func(user *model.User) {
			*user = updated.Clone()
		})
	})
	if settleErr != nil {
		return model.User{}, settleErr
	}
	if s.onProfileUpdated != nil && callErr == nil {
		s.onProfileUpdated(payload.User.Clone())
	}
	return payload.User.Clone(), nil
}

// Search replaces the search results.
func (s *Store) Search(ctx context.Context, query string, page int) error {
	ticket, err := s.core.Begin(GroupSearch, state.KindQuery)
	if err != nil {
		return err
	}
	values := s.pageQuery(page)
	values.Set("q", strings.TrimSpace(query))
	var payload pageResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodGet, Path: "/users/search", Query: values}, &payload)
	return s.core.Settle(ticket, callErr, func() {
		s.search = newUserPage(payload.Users, payload.Page)
		s.searchQuery = query
	})
}

// ToggleFollow follows or unfollows id. The target's follower count comes
// from the server when it sends one; otherwise it moves by one, and only
// when the follow flag actually changed.
func (s *Store) ToggleFollow(ctx context.Context, id model.ID) error {
	ticket, err := s.core.Begin(GroupFollow, state.KindCommand)
	if err != nil {
		return err
	}
	var payload followResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodPost, Path: "/follows/" + id.String() + "/follow"}, &payload)
	return s.core.Settle(ticket, callErr, func() {
		previous, known := s.follows[id]
		s.follows[id] = payload.IsFollowing
		delta := 0
		if known && previous != payload.IsFollowing {
			delta = 1
			if !payload.IsFollowing {
				delta = -1
			}
		}
		s.eachCopy(id, func(user *model.User) {
			if payload.FollowerCount != nil {
				user.FollowerCount = model.NonNegative(*payload.FollowerCount)
				return
			}
			user.FollowerCount = model.NonNegative(user.FollowerCount + delta)
		})
	})
}

type checkResponse struct {
	IsFollowing bool `json:"is_following"`
}

// CheckFollow refreshes the viewer's follow flag for id.
func (s *Store) CheckFollow(ctx context.Context, id model.ID) error {
	ticket, err := s.core.Begin(FollowCheckGroup(id), state.KindQuery)
	if err != nil {
		return err
	}
	var payload checkResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodGet, Path: "/follows/" + id.String() + "/check"}, &payload)
	return s.core.Settle(ticket, callErr, func() {
		s.follows[id] = payload.IsFollowing
	})
}

// ListFollowers replaces the followers list with one page of id's followers.
func (s *Store) ListFollowers(ctx context.Context, id model.ID, page int) error {
	ticket, err := s.core.Begin(GroupFollowers, state.KindQuery)
	if err != nil {
		return err
	}
	var payload pageResponse
	request := transport.Request{Method: http.MethodGet, Path: "/follows/" + id.String() + "/followers", Query: s.pageQuery(page)}
	callErr := s.caller.Call(ctx, request, &payload)
	return s.core.Settle(ticket, callErr, func() {
		s.followers = newUserPage(payload.Followers, payload.Page)
		s.followersOf = id
	})
}

// ListFollowing replaces the following list with one page of the users the viewer follows.
func (s *Store) ListFollowing(ctx context.Context, page int) error {
	ticket, err := s.core.Begin(GroupFollowing, state.KindQuery)
	if err != nil {
		return err
	}
	var payload pageResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodGet, Path: "/follows/following", Query: s.pageQuery(page)}, &payload)
	return s.core.Settle(ticket, callErr, func() {
		s.following = newUserPage(payload.Following, payload.Page)
		for _, user := range payload.Following {
			s.follows[user.ID] = true
		}
	})
}

// Profile returns the cached profile of id.
func (s *Store) Profile(id model.ID) (model.User, bool) {
	var (
		user model.User
		ok   bool
	)
	s.core.View(func() {
		user, ok = s.profiles[id]
	})
	return user.Clone(), ok
}

// Follow returns the viewer's known relationship to id.
func (s *Store) Follow(id model.ID) (FollowState, bool) {
	var (
		follow FollowState
		ok     bool
	)
	s.core.View(func() {
		follow.Following, ok = s.follows[id]
		if profile, cached := s.profiles[id]; cached {
			follow.FollowerCount = profile.FollowerCount
		}
	})
	return follow, ok
}

// SearchResults returns the last search query and its results.
func (s *Store) SearchResults() (string, UserPage) {
	var (
		query string
		page  UserPage
	)
	s.core.View(func() {
		query = s.searchQuery
		page = s.search.clone()
	})
	return query, page
}

// Followers returns whose followers are resident and the page.
func (s *Store) Followers() (model.ID, UserPage) {
	var (
		of   model.ID
		page UserPage
	)
	s.core.View(func() {
		of = s.followersOf
		page = s.followers.clone()
	})
	return of, page
}

// Following returns the users the viewer follows.
func (s *Store) Following() UserPage {
	var page UserPage
	s.core.View(func() {
		page = s.following.clone()
	})
	return page
}

// Status returns the request status of group.
func (s *Store) Status(group state.Group) state.OpState {
	return s.core.State(group)
}

// Clear drops every slice and invalidates outstanding requests.
func (s *Store) Clear() {
	s.core.Reset(func() {
		s.profiles = make(map[model.ID]model.User)
		s.follows = make(map[model.ID]bool)
		s.search = UserPage{}
		s.searchQuery = ""
		s.followers = UserPage{}
		s.followersOf = ""
		s.following = UserPage{}
	})
}

// eachCopy applies fn to the cached profile and every listed copy of id.
func (s *Store) eachCopy(id model.ID, fn func(user *model.User)) {
	if profile, ok := s.profiles[id]; ok {
		fn(&profile)
		s.profiles[id] = profile
	}
	s.eachListed(id, fn)
}

func (s *Store) eachListed(id model.ID, fn func(user *model.User)) {
	for _, list := range [][]model.User{s.search.Users, s.followers.Users, s.following.Users} {
		if index := slices.IndexFunc(list, func(user model.User) bool { return user.ID == id }); index >= 0 {
			fn(&list[index])
		}
	}
}

func (s *Store) pageQuery(page int) url.Values {
	if page <= 0 {
		page = 1
	}
	values := url.Values{}
	values.Set("page", strconv.Itoa(page))
	values.Set("per_page", strconv.Itoa(s.pageSize))
	return values
}

func newUserPage(users []model.User, page model.Page) UserPage {
	cloned := model.CloneAll(users)
	if cloned == nil {
		cloned = []model.User{}
	}
	return UserPage{Users: cloned, Page: page}
}

func (p UserPage) clone() UserPage {
	return UserPage{Users: model.CloneAll(p.Users), Page: p.Page}
}
