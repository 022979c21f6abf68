// Package posts holds the feed, the open post and its comments.
//
// Lists are replaced by the latest issued query only. Likes and comment
// counts are patched from the server's authoritative values into every
// resident copy of the post.
package posts

import (
	"errors"
	"slices"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/model"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/state"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/transport"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/validation"
	"go.uber.org/zap"
)

// StoreName identifies the post store in change notifications.
const StoreName = "posts"

// Operation groups of the post store.
const (
	GroupList     state.Group = "posts.list"
	GroupDetail   state.Group = "posts.detail"
	GroupCreate   state.Group = "posts.create"
	GroupUpdate   state.Group = "posts.update"
	GroupDelete   state.Group = "posts.delete"
	GroupLike     state.Group = "posts.like"
	GroupComments state.Group = "posts.comments"
	GroupComment  state.Group = "posts.comment"
)

const (
	sliceFeed   = "feed"
	sliceDetail = "detail"

	defaultPageSize = 20
)

var (
	// ErrNotAuthor indicates an edit of a resident post written by someone else.
	ErrNotAuthor = errors.New("posts: not the author")

	errMissingCaller = errors.New("posts: caller required")
)

// Config describes the dependencies of the post store.
type Config struct {
	Caller    transport.Caller
	Session   state.SessionReader
	Validator *validation.Validator
	Publisher state.Publisher
	Logger    *zap.Logger
	PageSize  int
}

// Store is the post store.
type Store struct {
	core      *state.Core
	caller    transport.Caller
	session   state.SessionReader
	validator *validation.Validator
	pageSize  int

	// guarded by core
	feed         []model.Post
	page         model.Page
	params       ListParams
	detail       *model.Post
	comments     []model.Comment
	commentsPost model.ID
	likeSeq      uint64
	likeInflight map[model.ID]map[uint64]struct{}
}

// NewStore constructs the post store.
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
		caller:       cfg.Caller,
		session:      cfg.Session,
		validator:    validator,
		pageSize:     pageSize,
		likeInflight: make(map[model.ID]map[uint64]struct{}),
	}, nil
}

// Feed returns a copy of the feed slice and its page metadata.
func (s *Store) Feed() ([]model.Post, model.Page) {
	var (
		posts []model.Post
		page  model.Page
	)
	s.core.View(func() {
		posts = model.CloneAll(s.feed)
		page = s.page
	})
	return posts, page
}

// Params returns the parameters of the feed currently shown.
func (s *Store) Params() ListParams {
	var params ListParams
	s.core.View(func() {
		params = s.params
	})
	return params
}

// Post returns the feed copy of id.
func (s *Store) Post(id model.ID) (model.Post, bool) {
	var (
		post model.Post
		ok   bool
	)
	s.core.View(func() {
		if index := s.feedIndex(id); index >= 0 {
			post, ok = s.feed[index].Clone(), true
		}
	})
	return post, ok
}

// Detail returns the open post.
func (s *Store) Detail() (model.Post, bool) {
	var (
		post model.Post
		ok   bool
	)
	s.core.View(func() {
		if s.detail != nil {
			post, ok = s.detail.Clone(), true
		}
	})
	return post, ok
}

// Comments returns the post whose comments are resident and the comments.
func (s *Store) Comments() (model.ID, []model.Comment) {
	var (
		postID   model.ID
		comments []model.Comment
	)
	s.core.View(func() {
		postID = s.commentsPost
		comments = model.CloneAll(s.comments)
	})
	return postID, comments
}

// LikePending reports whether a like toggle for id is outstanding. The
// presentation disables the control while it is.
func (s *Store) LikePending(id model.ID) bool {
	var pending bool
	s.core.View(func() {
		pending = len(s.likeInflight[id]) > 0
	})
	return pending
}

// CanEdit reports whether the signed-in user wrote the resident post id.
func (s *Store) CanEdit(id model.ID) bool {
	var author model.ID
	s.core.View(func() {
		author = s.authorOf(id)
	})
	return author != "" && s.session != nil && author == s.session.CurrentUserID()
}

// Status returns the request status of group.
func (s *Store) Status(group state.Group) state.OpState {
	return s.core.State(group)
}

// ClearDetail closes the open post and drops its comments. Detail and
// comment fetches still in flight are discarded when they settle.
func (s *Store) ClearDetail() {
	s.core.Supersede(sliceDetail, func() {
		s.detail = nil
		s.comments = nil
		s.commentsPost = ""
	}, GroupDetail, GroupComments)
}

// Clear drops every slice and invalidates outstanding requests.
func (s *Store) Clear() {
	s.core.Reset(func() {
		s.feed = nil
		s.page = model.Page{}
		s.params = ListParams{}
		s.detail = nil
		s.comments = nil
		s.commentsPost = ""
		s.likeInflight = make(map[model.ID]map[uint64]struct{})
	})
}

func (s *Store) feedIndex(id model.ID) int {
	return slices.IndexFunc(s.feed, func(post model.Post) bool {
		return post.ID == id
	})
}

func (s *Store) authorOf(id model.ID) model.ID {
	if index := s.feedIndex(id); index >= 0 && s.feed[index].Author != nil {
		return s.feed[index].Author.ID
	}
	if s.detail != nil && s.detail.ID == id && s.detail.Author != nil {
		return s.detail.Author.ID
	}
	return ""
}

// patch applies fn to every resident copy of post id.
func (s *Store) patch(id model.ID, fn func(post *model.Post)) {
	if index := s.feedIndex(id); index >= 0 {
		fn(&s.feed[index])
	}
	if s.detail != nil && s.detail.ID == id {
		fn(s.detail)
	}
}

// replace swaps every resident copy of post.ID for post.
func (s *Store) replace(post model.Post) {
	if index := s.feedIndex(post.ID); index >= 0 {
		s.feed[index] = post.Clone()
	}
	if s.detail != nil && s.detail.ID == post.ID {
		detail := post.Clone()
		s.detail = &detail
	}
}
