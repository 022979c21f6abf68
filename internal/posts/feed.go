package posts

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/model"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/state"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/transport"
)

// ListParams filters and pages the feed.
type ListParams struct {
	Page     int
	PerPage  int
	Category string
	AuthorID model.ID
	Search   string
}

func (p ListParams) query(defaultPerPage int) url.Values {
	page := p.Page
	if page <= 0 {
		page = 1
	}
	perPage := p.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))
	if category := strings.TrimSpace(p.Category); category != "" {
		query.Set("category", category)
	}
	if p.AuthorID != "" {
		query.Set("user_id", p.AuthorID.String())
	}
	if search := strings.TrimSpace(p.Search); search != "" {
		query.Set("search", search)
	}
	return query
}

// CreateInput is a new post. Images are uploaded in order.
type CreateInput struct {
	Title    string           `json:"title" validate:"required,max=200"`
	Content  string           `json:"content" validate:"required"`
	Category string           `json:"category" validate:"max=50"`
	Tags     []string         `json:"tags" validate:"dive,required,max=50"`
	Images   []transport.File `json:"-"`
}

// UpdateInput replaces the editable fields of a post.
type UpdateInput struct {
	Title    string   `json:"title" validate:"required,max=200"`
	Content  string   `json:"content" validate:"required"`
	Category string   `json:"category" validate:"max=50"`
	Tags     []string `json:"tags" validate:"dive,required,max=50"`
}

type listResponse struct {
	Posts []model.Post `json:"posts"`
	model.Page
}

type postResponse struct {
	Post model.Post `json:"post"`
}

// List fetches one feed page and replaces the feed slice with it.
func (s *Store) List(ctx context.Context, params ListParams) error {
	ticket, err := s.core.Begin(GroupList, state.KindQuery)
	if err != nil {
		return err
	}
	var payload listResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodGet, Path: "/posts", Query: params.query(s.pageSize)}, &payload)
	return s.core.Settle(ticket, callErr, func() {
		s.feed = model.CloneAll(payload.Posts)
		if s.feed == nil {
			s.feed = []model.Post{}
		}
		s.page = payload.Page
		s.params = params
	})
}

// Get opens one post in the detail slice.
func (s *Store) Get(ctx context.Context, id model.ID) error {
	ticket, err := s.core.Begin(GroupDetail, state.KindQuery)
	if err != nil {
		return err
	}
	var payload postResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodGet, Path: "/posts/" + id.String()}, &payload)
	return s.core.Settle(ticket, callErr, func() {
		detail := payload.Post.Clone()
		s.detail = &detail
		s.replace(payload.Post)
	})
}

// Create publishes a post and prepends it to the feed.
func (s *Store) Create(ctx context.Context, input CreateInput) (model.Post, error) {
	if err := s.validator.Validate(input); err != nil {
		return model.Post{}, err
	}
	ticket, err := s.core.Begin(GroupCreate, state.KindCommand)
	if err != nil {
		return model.Post{}, err
	}

	form := &transport.Form{}
	form.Add("title", input.Title)
	form.Add("content", input.Content)
	if input.Category != "" {
		form.Add("category", input.Category)
	}
	if len(input.Tags) > 0 {
		form.Add("tags", strings.Join(input.Tags, ","))
	}
	for _, image := range input.Images {
		image.Field = "images"
		form.Files = append(form.Files, image)
	}

	var payload postResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodPost, Path: "/posts", Form: form}, &payload)
	settleErr := s.core.Settle(ticket, callErr, func() {
		if s.feedIndex(payload.Post.ID) >= 0 {
			s.replace(payload.Post)
			return
		}
		s.feed = append([]model.Post{payload.Post.Clone()}, s.feed...)
		s.page.Total++
	})
	if settleErr != nil {
		return model.Post{}, settleErr
	}
	return payload.Post.Clone(), nil
}

// Update edits a post and replaces its resident copies.
func (s *Store) Update(ctx context.Context, id model.ID, input UpdateInput) (model.Post, error) {
	if err := s.validator.Validate(input); err != nil {
		return model.Post{}, err
	}
	if err := s.checkAuthor(id); err != nil {
		return model.Post{}, err
	}
	ticket, err := s.core.Begin(GroupUpdate, state.KindCommand)
	if err != nil {
		return model.Post{}, err
	}
	var payload postResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodPut, Path: "/posts/" + id.String(), Body: input}, &payload)
	settleErr := s.core.Settle(ticket, callErr, func() {
		s.replace(payload.Post)
	})
	if settleErr != nil {
		return model.Post{}, settleErr
	}
	return payload.Post.Clone(), nil
}

// Delete removes a post from the feed and closes it if it is open.
func (s *Store) Delete(ctx context.Context, id model.ID) error {
	if err := s.checkAuthor(id); err != nil {
		return err
	}
	ticket, err := s.core.Begin(GroupDelete, state.KindCommand)
	if err != nil {
		return err
	}
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodDelete, Path: "/posts/" + id.String()}, nil)
	return s.core.Settle(ticket, callErr, func() {
		if index := s.feedIndex(id); index >= 0 {
			s.feed = append(s.feed[:index:index], s.feed[index+1:]...)
			s.page.Total = model.NonNegative(s.page.Total - 1)
		}
		if s.detail != nil && s.detail.ID == id {
			s.detail = nil
		}
		if s.commentsPost == id {
			s.comments = nil
			s.commentsPost = ""
		}
		delete(s.likeInflight, id)
	})
}

func (s *Store) checkAuthor(id model.ID) error {
	if s.session == nil {
		return nil
	}
	var author model.ID
	s.core.View(func() {
		author = s.authorOf(id)
	})
	if author != "" && author != s.session.CurrentUserID() {
		return ErrNotAuthor
	}
	return nil
}
