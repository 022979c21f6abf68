package posts

import (
	"context"
	"net/http"
	"slices"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/model"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/state"
	"github.com/MarcoPoloResearchLab/fieldhand/internal/transport"
)

type likeResponse struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"like_count"`
}

// CommentInput is the body of a new comment.
type CommentInput struct {
	Content string `json:"content" validate:"required,max=2000"`
}

type commentsResponse struct {
	Comments []model.Comment `json:"comments"`
}

type commentResponse struct {
	Comment      model.Comment `json:"comment"`
	CommentCount *int          `json:"comment_count"`
}

type commentDeleteResponse struct {
	PostID       model.ID `json:"post_id"`
	CommentCount *int     `json:"comment_count"`
}

// ToggleLike flips the viewer's like on post id. Liked and LikeCount are
// patched from the server's values only.
func (s *Store) ToggleLike(ctx context.Context, id model.ID) error {
	ticket, err := s.core.Begin(GroupLike, state.KindCommand)
	if err != nil {
		return err
	}
	var token uint64
	s.core.Mutate(sliceFeed, func() {
		s.likeSeq++
		token = s.likeSeq
		inflight := s.likeInflight[id]
		if inflight == nil {
			inflight = make(map[uint64]struct{})
			s.likeInflight[id] = inflight
		}
		inflight[token] = struct{}{}
	})

	var payload likeResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodPost, Path: "/posts/" + id.String() + "/like"}, &payload)

	settleErr := s.core.Settle(ticket, callErr, func() {
		s.releaseLike(id, token)
		s.patch(id, func(post *model.Post) {
			post.Liked = payload.Liked
			post.LikeCount = model.NonNegative(payload.LikeCount)
		})
	})
	if callErr != nil {
		s.core.Mutate(sliceFeed, func() {
			s.releaseLike(id, token)
		})
	}
	return settleErr
}

// releaseLike drops the pending mark of one toggle. Callers hold the store lock.
func (s *Store) releaseLike(id model.ID, token uint64) {
	inflight := s.likeInflight[id]
	if inflight == nil {
		return
	}
	delete(inflight, token)
	if len(inflight) == 0 {
		delete(s.likeInflight, id)
	}
}

// ListComments loads the comments of postID.
func (s *Store) ListComments(ctx context.Context, postID model.ID) error {
	ticket, err := s.core.Begin(GroupComments, state.KindQuery)
	if err != nil {
		return err
	}
	var payload commentsResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodGet, Path: "/comments/post/" + postID.String()}, &payload)
	return s.core.Settle(ticket, callErr, func() {
		s.comments = model.CloneAll(payload.Comments)
		if s.comments == nil {
			s.comments = []model.Comment{}
		}
		s.commentsPost = postID
	})
}

// AddComment posts a comment on postID. The comment count follows the
// server's value when it sends one.
func (s *Store) AddComment(ctx context.Context, postID model.ID, content string) (model.Comment, error) {
	input := CommentInput{Content: content}
	if err := s.validator.Validate(input); err != nil {
		return model.Comment{}, err
	}
	ticket, err := s.core.Begin(GroupComment, state.KindCommand)
	if err != nil {
		return model.Comment{}, err
	}
	var payload commentResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodPost, Path: "/comments/post/" + postID.String(), Body: input}, &payload)
	settleErr := s.core.Settle(ticket, callErr, func() {
		if s.commentsPost == postID {
			s.comments = append(s.comments, payload.Comment.Clone())
		}
		s.patch(postID, func(post *model.Post) {
			if payload.CommentCount != nil {
				post.CommentCount = model.NonNegative(*payload.CommentCount)
				return
			}
			post.CommentCount++
		})
	})
	if settleErr != nil {
		return model.Comment{}, settleErr
	}
	return payload.Comment.Clone(), nil
}

// DeleteComment removes a comment from the resident comments and patches
// the count of the post it belongs to. A count sent by the server is applied
// even when the comment was never loaded; the local -1 needs the comment to
// be resident.
func (s *Store) DeleteComment(ctx context.Context, commentID model.ID) error {
	ticket, err := s.core.Begin(GroupComment, state.KindCommand)
	if err != nil {
		return err
	}
	var payload commentDeleteResponse
	callErr := s.caller.Call(ctx, transport.Request{Method: http.MethodDelete, Path: "/comments/" + commentID.String()}, &payload)
	return s.core.Settle(ticket, callErr, func() {
		index := slices.IndexFunc(s.comments, func(comment model.Comment) bool {
			return comment.ID == commentID
		})
		postID := payload.PostID
		if index >= 0 {
			if postID == "" {
				postID = s.commentsPost
			}
			s.comments = append(s.comments[:index:index], s.comments[index+1:]...)
		}
		if postID == "" {
			return
		}
		s.patch(postID, func(post *model.Post) {
			if payload.CommentCount != nil {
				post.CommentCount = model.NonNegative(*payload.CommentCount)
				return
			}
			if index >= 0 {
				post.CommentCount = model.NonNegative(post.CommentCount - 1)
			}
		})
	})
}
