package mockapi

import (
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxUploadBytes = 16 << 20

func (h *httpHandler) handleGetUser(c *gin.Context) {
	user, err := h.platform.User(pathID(c))
	if err != nil {
		h.writeError(c, "get_user", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form data"})
		return
	}
	update := ProfileUpdate{
		FullName:      c.PostForm("full_name"),
		Bio:           c.PostForm("bio"),
		Location:      c.PostForm("location"),
		ExpertiseArea: c.PostForm("expertise_area"),
	}
	if urls := uploadURLs(c.Request.MultipartForm, "profile_image"); len(urls) > 0 {
		update.ProfileImage = urls[0]
	}
	user, err := h.platform.UpdateProfile(viewerID(c), update)
	if err != nil {
		h.writeError(c, "update_profile", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Profile updated successfully", "user": user})
}

func (h *httpHandler) handleSearchUsers(c *gin.Context) {
	page, perPage := pageParams(c)
	users, meta := h.platform.SearchUsers(c.Query("q"), page, perPage)
	c.JSON(http.StatusOK, listResponse("users", users, meta))
}

func (h *httpHandler) handleListPosts(c *gin.Context) {
	page, perPage := pageParams(c)
	filter := PostFilter{
		Category: c.Query("category"),
		AuthorID: model.ID(c.Query("user_id")),
		Search:   c.Query("search"),
	}
	posts, meta := h.platform.ListPosts(viewerID(c), filter, page, perPage)
	c.JSON(http.StatusOK, listResponse("posts", posts, meta))
}

func (h *httpHandler) handleGetPost(c *gin.Context) {
	post, err := h.platform.Post(viewerID(c), pathID(c))
	if err != nil {
		h.writeError(c, "get_post", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form data"})
		return
	}
	input := NewPost{
		Title:     c.PostForm("title"),
		Content:   c.PostForm("content"),
		Category:  c.PostForm("category"),
		Tags:      splitTags(c.PostForm("tags")),
		ImageURLs: uploadURLs(c.Request.MultipartForm, "images"),
	}
	post, err := h.platform.CreatePost(viewerID(c), input)
	if err != nil {
		h.writeError(c, "create_post", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Post created successfully", "post": post})
}

func (h *httpHandler) handleUpdatePost(c *gin.Context) {
	var edit PostEdit
	if err := c.ShouldBindJSON(&edit); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	post, err := h.platform.UpdatePost(viewerID(c), pathID(c), edit)
	if err != nil {
		h.writeError(c, "update_post", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post updated successfully", "post": post})
}

func (h *httpHandler) handleDeletePost(c *gin.Context) {
	if err := h.platform.DeletePost(viewerID(c), pathID(c)); err != nil {
		h.writeError(c, "delete_post", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post deleted successfully"})
}

func (h *httpHandler) handleToggleLike(c *gin.Context) {
	liked, count, err := h.platform.ToggleLike(viewerID(c), pathID(c))
	if err != nil {
		h.writeError(c, "toggle_like", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": liked, "like_count": count})
}

type commentRequestPayload struct {
	Content string `json:"content"`
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	comments, err := h.platform.Comments(pathID(c))
	if err != nil {
		h.writeError(c, "list_comments", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	var request commentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	comment, count, err := h.platform.AddComment(viewerID(c), pathID(c), request.Content)
	if err != nil {
		h.writeError(c, "add_comment", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"comment": comment, "comment_count": count})
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	postID, count, err := h.platform.DeleteComment(viewerID(c), pathID(c))
	if err != nil {
		h.writeError(c, "delete_comment", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Comment deleted successfully", "post_id": postID, "comment_count": count})
}

func (h *httpHandler) handleListCommunities(c *gin.Context) {
	page, perPage := pageParams(c)
	communities, meta := h.platform.ListCommunities(viewerID(c), c.Query("search"), page, perPage)
	c.JSON(http.StatusOK, listResponse("communities", communities, meta))
}

func (h *httpHandler) handleGetCommunity(c *gin.Context) {
	community, err := h.platform.Community(viewerID(c), pathID(c))
	if err != nil {
		h.writeError(c, "get_community", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"community": community})
}

func (h *httpHandler) handleCreateCommunity(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form data"})
		return
	}
	input := NewCommunity{
		Name:        c.PostForm("name"),
		Description: c.PostForm("description"),
		Public:      c.PostForm("is_public") != "false",
	}
	if urls := uploadURLs(c.Request.MultipartForm, "image"); len(urls) > 0 {
		input.ImageURL = urls[0]
	}
	community, err := h.platform.CreateCommunity(viewerID(c), input)
	if err != nil {
		h.writeError(c, "create_community", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Community created successfully", "community": community})
}

func (h *httpHandler) handleToggleMembership(c *gin.Context) {
	member, count, err := h.platform.ToggleMembership(viewerID(c), pathID(c))
	if err != nil {
		h.writeError(c, "toggle_membership", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_member": member, "member_count": count})
}

func (h *httpHandler) handleMyCommunities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"communities": h.platform.MyCommunities(viewerID(c))})
}

func (h *httpHandler) handleListMembers(c *gin.Context) {
	page, perPage := pageParams(c)
	members, meta, err := h.platform.Members(pathID(c), page, perPage)
	if err != nil {
		h.writeError(c, "list_members", err)
		return
	}
	c.JSON(http.StatusOK, listResponse("members", members, meta))
}

type sendMessageRequestPayload struct {
	ReceiverID model.ID `json:"receiver_id"`
	Content    string   `json:"content"`
}

func (h *httpHandler) handleConversations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"conversations": h.platform.Conversations(viewerID(c))})
}

func (h *httpHandler) handleTranscript(c *gin.Context) {
	page, perPage := pageParams(c)
	messages, meta, err := h.platform.Transcript(viewerID(c), pathID(c), page, perPage)
	if err != nil {
		h.writeError(c, "transcript", err)
		return
	}
	c.JSON(http.StatusOK, listResponse("messages", messages, meta))
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	var request sendMessageRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ReceiverID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "receiver_id and content are required"})
		return
	}
	message, err := h.platform.SendMessage(viewerID(c), request.ReceiverID, request.Content)
	if err != nil {
		h.writeError(c, "send_message", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Message sent successfully", "data": message})
}

func (h *httpHandler) handleDeleteMessage(c *gin.Context) {
	if err := h.platform.DeleteMessage(viewerID(c), pathID(c)); err != nil {
		h.writeError(c, "delete_message", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message deleted successfully"})
}

func (h *httpHandler) handleUnreadCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"unread_count": h.platform.UnreadCount(viewerID(c))})
}

func (h *httpHandler) handleToggleFollow(c *gin.Context) {
	following, count, err := h.platform.ToggleFollow(viewerID(c), pathID(c))
	if err != nil {
		h.writeError(c, "toggle_follow", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_following": following, "follower_count": count})
}

func (h *httpHandler) handleCheckFollow(c *gin.Context) {
	following, err := h.platform.IsFollowing(viewerID(c), pathID(c))
	if err != nil {
		h.writeError(c, "check_follow", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_following": following})
}

func (h *httpHandler) handleFollowers(c *gin.Context) {
	page, perPage := pageParams(c)
	followers, meta, err := h.platform.Followers(pathID(c), page, perPage)
	if err != nil {
		h.writeError(c, "followers", err)
		return
	}
	c.JSON(http.StatusOK, listResponse("followers", followers, meta))
}

func (h *httpHandler) handleFollowing(c *gin.Context) {
	page, perPage := pageParams(c)
	following, meta := h.platform.Following(viewerID(c), page, perPage)
	c.JSON(http.StatusOK, listResponse("following", following, meta))
}

// uploadURLs names the files of field as they would be served after upload.
// File contents are not retained.
func uploadURLs(form *multipart.Form, field string) []string {
	if form == nil {
		return nil
	}
	headers := form.File[field]
	urls := make([]string, 0, len(headers))
	for _, header := range headers {
		urls = append(urls, "/uploads/"+uuid.NewString()+"-"+header.Filename)
	}
	return urls
}

func splitTags(raw string) []string {
	tags := make([]string, 0)
	for _, tag := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}
