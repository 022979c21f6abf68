package mockapi

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/model"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// apiError is a failure that maps onto an HTTP status and error message.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s", e.status, e.message)
}

func notFound(entity string) error {
	return &apiError{status: http.StatusNotFound, message: entity + " not found"}
}

func badRequest(message string) error {
	return &apiError{status: http.StatusBadRequest, message: message}
}

func forbidden(message string) error {
	return &apiError{status: http.StatusForbidden, message: message}
}

var errInvalidCredentials = &apiError{status: http.StatusUnauthorized, message: "Invalid credentials"}

type account struct {
	user         model.User
	passwordHash []byte
}

type postRecord struct {
	post     model.Post
	authorID model.ID
	likes    map[model.ID]struct{}
	comments []commentRecord
}

type commentRecord struct {
	comment model.Comment
	userID  model.ID
}

type communityRecord struct {
	community model.Community
	adminID   model.ID
	members   []model.ID
}

type messageRecord struct {
	message    model.Message
	senderID   model.ID
	receiverID model.ID
}

// Registration is the payload accepted by register.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	UserType string `json:"user_type"`
	FullName string `json:"full_name"`
	Bio      string `json:"bio"`
	Location string `json:"location"`
}

// ProfileUpdate carries the editable profile fields.
type ProfileUpdate struct {
	FullName      string
	Bio           string
	Location      string
	ExpertiseArea string
	ProfileImage  string
}

// NewPost carries the fields of a created post.
type NewPost struct {
	Title     string
	Content   string
	Category  string
	Tags      []string
	ImageURLs []string
}

// PostEdit carries the fields of an edited post.
type PostEdit struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

// PostFilter narrows a post listing.
type PostFilter struct {
	Category string
	AuthorID model.ID
	Search   string
}

// NewCommunity carries the fields of a created community.
type NewCommunity struct {
	Name        string
	Description string
	Public      bool
	ImageURL    string
}

// Platform is the in-memory state of the mock social platform. Every
// exported method is safe for concurrent use.
type Platform struct {
	mu           sync.Mutex
	clock        func() time.Time
	passwordCost int
	accounts     map[model.ID]*account
	posts        []*postRecord
	communities  []*communityRecord
	messages     []*messageRecord
	follows      map[model.ID]map[model.ID]struct{}
}

// NewPlatform constructs an empty platform.
func NewPlatform(clock func() time.Time, passwordCost int) *Platform {
	if clock == nil {
		clock = time.Now
	}
	if passwordCost < bcrypt.MinCost {
		passwordCost = bcrypt.DefaultCost
	}
	return &Platform{
		clock:        clock,
		passwordCost: passwordCost,
		accounts:     make(map[model.ID]*account),
		follows:      make(map[model.ID]map[model.ID]struct{}),
	}
}

func (p *Platform) now() model.Timestamp {
	return model.NewTimestamp(p.clock())
}

func newPublicID() model.ID {
	return model.ID(uuid.NewString())
}

// Register creates an account and returns its public view.
func (p *Platform) Register(input Registration) (model.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	username := strings.TrimSpace(input.Username)
	switch {
	case username == "":
		return model.User{}, badRequest("username is required")
	case email == "":
		return model.User{}, badRequest("email is required")
	case len(input.Password) < 8:
		return model.User{}, badRequest("Password must be at least 8 characters long")
	case strings.TrimSpace(input.UserType) == "":
		return model.User{}, badRequest("user_type is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), p.passwordCost)
	if err != nil {
		return model.User{}, fmt.Errorf("mockapi: hash password: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.accounts {
		if existing.user.Email == email {
			return model.User{}, &apiError{status: http.StatusConflict, message: "Email already registered"}
		}
		if existing.user.Username == username {
			return model.User{}, &apiError{status: http.StatusConflict, message: "Username already taken"}
		}
	}
	created := &account{
		user: model.User{
			ID:        newPublicID(),
			Username:  username,
			Email:     email,
			UserType:  input.UserType,
			FullName:  input.FullName,
			Bio:       input.Bio,
			Location:  input.Location,
			CreatedAt: p.now(),
		},
		passwordHash: hash,
	}
	p.accounts[created.user.ID] = created
	return p.renderUser(created.user.ID), nil
}

// Authenticate checks email and password.
func (p *Platform) Authenticate(email, password string) (model.User, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	p.mu.Lock()
	var match *account
	for _, candidate := range p.accounts {
		if candidate.user.Email == normalized {
			match = candidate
			break
		}
	}
	p.mu.Unlock()
	if match == nil {
		return model.User{}, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(match.passwordHash, []byte(password)); err != nil {
		return model.User{}, errInvalidCredentials
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.renderUser(match.user.ID), nil
}

// User returns the public view of id.
func (p *Platform) User(id model.ID) (model.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[id]; !ok {
		return model.User{}, notFound("User")
	}
	return p.renderUser(id), nil
}

// UpdateProfile replaces the editable fields of id's profile. An empty image
// keeps the current one.
func (p *Platform) UpdateProfile(id model.ID, update ProfileUpdate) (model.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	existing, ok := p.accounts[id]
	if !ok {
		return model.User{}, notFound("User")
	}
	existing.user.FullName = update.FullName
	existing.user.Bio = update.Bio
	existing.user.Location = update.Location
	existing.user.ExpertiseArea = update.ExpertiseArea
	if update.ProfileImage != "" {
		existing.user.ProfileImage = update.ProfileImage
	}
	return p.renderUser(id), nil
}

// SearchUsers matches query against username and full name.
func (p *Platform) SearchUsers(query string, page, perPage int) ([]model.User, model.Page) {
	needle := strings.ToLower(strings.TrimSpace(query))
	p.mu.Lock()
	defer p.mu.Unlock()
	matches := make([]model.User, 0)
	for _, id := range p.accountIDs() {
		user := p.accounts[id].user
		if needle == "" ||
			strings.Contains(strings.ToLower(user.Username), needle) ||
			strings.Contains(strings.ToLower(user.FullName), needle) {
			matches = append(matches, p.renderUser(id))
		}
	}
	return paginate(matches, page, perPage)
}

// ListPosts returns the newest-first feed for viewer.
func (p *Platform) ListPosts(viewer model.ID, filter PostFilter, page, perPage int) ([]model.Post, model.Page) {
	needle := strings.ToLower(strings.TrimSpace(filter.Search))
	p.mu.Lock()
	defer p.mu.Unlock()
	matches := make([]model.Post, 0)
	for index := len(p.posts) - 1; index >= 0; index-- {
		record := p.posts[index]
		if filter.Category != "" && record.post.Category != filter.Category {
			continue
		}
		if filter.AuthorID != "" && record.authorID != filter.AuthorID {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(record.post.Title), needle) &&
			!strings.Contains(strings.ToLower(record.post.Content), needle) {
			continue
		}
		matches = append(matches, p.renderPost(record, viewer))
	}
	return paginate(matches, page, perPage)
}

// Post returns one post as seen by viewer.
func (p *Platform) Post(viewer, id model.ID) (model.Post, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	record := p.findPost(id)
	if record == nil {
		return model.Post{}, notFound("Post")
	}
	return p.renderPost(record, viewer), nil
}

// CreatePost publishes a post authored by viewer.
func (p *Platform) CreatePost(viewer model.ID, input NewPost) (model.Post, error) {
	if strings.TrimSpace(input.Title) == "" || strings.TrimSpace(input.Content) == "" {
		return model.Post{}, badRequest("Title and content are required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	record := &postRecord{
		post: model.Post{
			ID:        newPublicID(),
			Title:     input.Title,
			Content:   input.Content,
			Category:  input.Category,
			Tags:      nonNilStrings(input.Tags),
			ImageURLs: nonNilStrings(input.ImageURLs),
			CreatedAt: now,
			UpdatedAt: now,
		},
		authorID: viewer,
		likes:    make(map[model.ID]struct{}),
	}
	p.posts = append(p.posts, record)
	return p.renderPost(record, viewer), nil
}

// UpdatePost edits a post owned by viewer.
func (p *Platform) UpdatePost(viewer, id model.ID, edit PostEdit) (model.Post, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	record := p.findPost(id)
	if record == nil {
		return model.Post{}, notFound("Post")
	}
	if record.authorID != viewer {
		return model.Post{}, forbidden("Unauthorized to edit this post")
	}
	if strings.TrimSpace(edit.Title) != "" {
		record.post.Title = edit.Title
	}
	if strings.TrimSpace(edit.Content) != "" {
		record.post.Content = edit.Content
	}
	record.post.Category = edit.Category
	if edit.Tags != nil {
		record.post.Tags = slices.Clone(edit.Tags)
	}
	record.post.UpdatedAt = p.now()
	return p.renderPost(record, viewer), nil
}

// DeletePost removes a post owned by viewer.
func (p *Platform) DeletePost(viewer, id model.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	index := slices.IndexFunc(p.posts, func(record *postRecord) bool { return record.post.ID == id })
	if index < 0 {
		return notFound("Post")
	}
	if p.posts[index].authorID != viewer {
		return forbidden("Unauthorized to delete this post")
	}
	p.posts = slices.Delete(p.posts, index, index+1)
	return nil
}

// ToggleLike flips viewer's like on a post.
func (p *Platform) ToggleLike(viewer, id model.ID) (bool, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	record := p.findPost(id)
	if record == nil {
		return false, 0, notFound("Post")
	}
	_, liked := record.likes[viewer]
	if liked {
		delete(record.likes, viewer)
	} else {
		record.likes[viewer] = struct{}{}
	}
	return !liked, len(record.likes), nil
}

// Comments returns a post's comments, oldest first.
func (p *Platform) Comments(postID model.ID) ([]model.Comment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	record := p.findPost(postID)
	if record == nil {
		return nil, notFound("Post")
	}
	comments := make([]model.Comment, 0, len(record.comments))
	for _, stored := range record.comments {
		comments = append(comments, p.renderComment(stored))
	}
	return comments, nil
}

// AddComment appends a comment by viewer and returns the new comment count.
func (p *Platform) AddComment(viewer, postID model.ID, content string) (model.Comment, int, error) {
	if strings.TrimSpace(content) == "" {
		return model.Comment{}, 0, badRequest("Content is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	record := p.findPost(postID)
	if record == nil {
		return model.Comment{}, 0, notFound("Post")
	}
	stored := commentRecord{
		comment: model.Comment{ID: newPublicID(), PostID: postID, Content: content, CreatedAt: p.now()},
		userID:  viewer,
	}
	record.comments = append(record.comments, stored)
	return p.renderComment(stored), len(record.comments), nil
}

// DeleteComment removes a comment written by viewer, or any comment on a post
// viewer authored, and returns the post it belonged to with its new comment
// count.
func (p *Platform) DeleteComment(viewer, commentID model.ID) (model.ID, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, record := range p.posts {
		index := slices.IndexFunc(record.comments, func(stored commentRecord) bool { return stored.comment.ID == commentID })
		if index < 0 {
			continue
		}
		if record.comments[index].userID != viewer && record.authorID != viewer {
			return "", 0, forbidden("Unauthorized to delete this comment")
		}
		record.comments = slices.Delete(record.comments, index, index+1)
		return record.post.ID, len(record.comments), nil
	}
	return "", 0, notFound("Comment")
}

// ListCommunities returns the newest-first community directory.
func (p *Platform) ListCommunities(viewer model.ID, search string, page, perPage int) ([]model.Community, model.Page) {
	needle := strings.ToLower(strings.TrimSpace(search))
	p.mu.Lock()
	defer p.mu.Unlock()
	matches := make([]model.Community, 0)
	for index := len(p.communities) - 1; index >= 0; index-- {
		record := p.communities[index]
		if needle != "" && !strings.Contains(strings.ToLower(record.community.Name), needle) {
			continue
		}
		matches = append(matches, p.renderCommunity(record, viewer))
	}
	return paginate(matches, page, perPage)
}

// Community returns one community as seen by viewer.
func (p *Platform) Community(viewer, id model.ID) (model.Community, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	record := p.findCommunity(id)
	if record == nil {
		return model.Community{}, notFound("Community")
	}
	return p.renderCommunity(record, viewer), nil
}

// CreateCommunity creates a community administered by viewer, who becomes
// its first member.
func (p *Platform) CreateCommunity(viewer model.ID, input NewCommunity) (model.Community, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return model.Community{}, badRequest("Name is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.communities {
		if strings.EqualFold(existing.community.Name, name) {
			return model.Community{}, &apiError{status: http.StatusConflict, message: "Community name already exists"}
		}
	}
	record := &communityRecord{
		community: model.Community{
			ID:          newPublicID(),
			Name:        name,
			Description: input.Description,
			ImageURL:    input.ImageURL,
			Public:      input.Public,
			CreatedAt:   p.now(),
		},
		adminID: viewer,
		members: []model.ID{viewer},
	}
	p.communities = append(p.communities, record)
	return p.renderCommunity(record, viewer), nil
}

// ToggleMembership joins or leaves a community. The admin cannot leave.
func (p *Platform) ToggleMembership(viewer, id model.ID) (bool, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	record := p.findCommunity(id)
	if record == nil {
		return false, 0, notFound("Community")
	}
	index := slices.Index(record.members, viewer)
	if index >= 0 {
		if record.adminID == viewer {
			return true, len(record.members), badRequest("Admin cannot leave the community")
		}
		record.members = slices.Delete(record.members, index, index+1)
		return false, len(record.members), nil
	}
	record.members = append(record.members, viewer)
	return true, len(record.members), nil
}

// MyCommunities returns the communities viewer belongs to.
func (p *Platform) MyCommunities(viewer model.ID) []model.Community {
	p.mu.Lock()
	defer p.mu.Unlock()
	mine := make([]model.Community, 0)
	for index := len(p.communities) - 1; index >= 0; index-- {
		record := p.communities[index]
		if slices.Contains(record.members, viewer) {
			mine = append(mine, p.renderCommunity(record, viewer))
		}
	}
	return mine
}

// Members returns a page of a community's roster in join order.
func (p *Platform) Members(id model.ID, page, perPage int) ([]model.User, model.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	record := p.findCommunity(id)
	if record == nil {
		return nil, model.Page{}, notFound("Community")
	}
	members := make([]model.User, 0, len(record.members))
	for _, member := range record.members {
		members = append(members, p.renderUser(member))
	}
	pageItems, meta := paginate(members, page, perPage)
	return pageItems, meta, nil
}

// Conversations returns viewer's conversation index, most recent first.
func (p *Platform) Conversations(viewer model.ID) []model.Conversation {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[model.ID]int)
	conversations := make([]model.Conversation, 0)
	for index := len(p.messages) - 1; index >= 0; index-- {
		record := p.messages[index]
		var peer model.ID
		switch viewer {
		case record.senderID:
			peer = record.receiverID
		case record.receiverID:
			peer = record.senderID
		default:
			continue
		}
		position, ok := seen[peer]
		if !ok {
			last := p.renderMessage(record)
			conversations = append(conversations, model.Conversation{
				Peer:        p.renderUser(peer),
				LastMessage: &last,
				LastUpdated: record.message.CreatedAt,
			})
			position = len(conversations) - 1
			seen[peer] = position
		}
		if record.receiverID == viewer && !record.message.Read {
			conversations[position].UnreadCount++
		}
	}
	return conversations
}

// Transcript returns a page of the exchange between viewer and peer in
// chronological order, and marks peer's messages to viewer as read.
func (p *Platform) Transcript(viewer, peer model.ID, page, perPage int) ([]model.Message, model.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[peer]; !ok {
		return nil, model.Page{}, notFound("User")
	}
	exchange := make([]model.Message, 0)
	for _, record := range p.messages {
		outgoing := record.senderID == viewer && record.receiverID == peer
		incoming := record.senderID == peer && record.receiverID == viewer
		if !outgoing && !incoming {
			continue
		}
		if incoming {
			record.message.Read = true
		}
		exchange = append(exchange, p.renderMessage(record))
	}
	pageItems, meta := paginate(exchange, page, perPage)
	return pageItems, meta, nil
}

// SendMessage delivers a message from viewer to receiver.
func (p *Platform) SendMessage(viewer, receiver model.ID, content string) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, badRequest("Content is required")
	}
	if receiver == viewer {
		return model.Message{}, badRequest("Cannot message yourself")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[receiver]; !ok {
		return model.Message{}, notFound("Receiver")
	}
	record := &messageRecord{
		message:    model.Message{ID: newPublicID(), Content: content, CreatedAt: p.now()},
		senderID:   viewer,
		receiverID: receiver,
	}
	p.messages = append(p.messages, record)
	return p.renderMessage(record), nil
}

// DeleteMessage removes a message sent by viewer.
func (p *Platform) DeleteMessage(viewer, id model.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	index := slices.IndexFunc(p.messages, func(record *messageRecord) bool { return record.message.ID == id })
	if index < 0 {
		return notFound("Message")
	}
	if p.messages[index].senderID != viewer {
		return forbidden("Unauthorized to delete this message")
	}
	p.messages = slices.Delete(p.messages, index, index+1)
	return nil
}

// UnreadCount returns how many messages to viewer are unread.
func (p *Platform) UnreadCount(viewer model.ID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, record := range p.messages {
		if record.receiverID == viewer && !record.message.Read {
			count++
		}
	}
	return count
}

// ToggleFollow flips whether viewer follows target and returns target's
// follower count.
func (p *Platform) ToggleFollow(viewer, target model.ID) (bool, int, error) {
	if viewer == target {
		return false, 0, badRequest("Cannot follow yourself")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[target]; !ok {
		return false, 0, notFound("User")
	}
	following := p.follows[viewer]
	if following == nil {
		following = make(map[model.ID]struct{})
		p.follows[viewer] = following
	}
	_, was := following[target]
	if was {
		delete(following, target)
	} else {
		following[target] = struct{}{}
	}
	return !was, p.followerCount(target), nil
}

// IsFollowing reports whether viewer follows target.
func (p *Platform) IsFollowing(viewer, target model.ID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[target]; !ok {
		return false, notFound("User")
	}
	_, following := p.follows[viewer][target]
	return following, nil
}

// Followers returns a page of the users following target.
func (p *Platform) Followers(target model.ID, page, perPage int) ([]model.User, model.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[target]; !ok {
		return nil, model.Page{}, notFound("User")
	}
	followers := make([]model.User, 0)
	for _, id := range p.accountIDs() {
		if _, ok := p.follows[id][target]; ok {
			followers = append(followers, p.renderUser(id))
		}
	}
	pageItems, meta := paginate(followers, page, perPage)
	return pageItems, meta, nil
}

// Following returns a page of the users viewer follows.
func (p *Platform) Following(viewer model.ID, page, perPage int) ([]model.User, model.Page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	following := make([]model.User, 0)
	for _, id := range p.accountIDs() {
		if _, ok := p.follows[viewer][id]; ok {
			following = append(following, p.renderUser(id))
		}
	}
	return paginate(following, page, perPage)
}

// accountIDs returns account ids in registration order.
func (p *Platform) accountIDs() []model.ID {
	ids := make([]model.ID, 0, len(p.accounts))
	for id := range p.accounts {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(left, right model.ID) int {
		leftCreated := p.accounts[left].user.CreatedAt.Time
		rightCreated := p.accounts[right].user.CreatedAt.Time
		if cmp := leftCreated.Compare(rightCreated); cmp != 0 {
			return cmp
		}
		return strings.Compare(string(left), string(right))
	})
	return ids
}

func (p *Platform) findPost(id model.ID) *postRecord {
	for _, record := range p.posts {
		if record.post.ID == id {
			return record
		}
	}
	return nil
}

func (p *Platform) findCommunity(id model.ID) *communityRecord {
	for _, record := range p.communities {
		if record.community.ID == id {
			return record
		}
	}
	return nil
}

func (p *Platform) followerCount(target model.ID) int {
	count := 0
	for _, following := range p.follows {
		if _, ok := following[target]; ok {
			count++
		}
	}
	return count
}

func (p *Platform) renderUser(id model.ID) model.User {
	stored, ok := p.accounts[id]
	if !ok {
		return model.User{ID: id}
	}
	user := stored.user
	user.PostCount = 0
	for _, record := range p.posts {
		if record.authorID == id {
			user.PostCount++
		}
	}
	user.FollowerCount = p.followerCount(id)
	user.FollowingCount = len(p.follows[id])
	return user
}

func (p *Platform) renderPost(record *postRecord, viewer model.ID) model.Post {
	post := record.post.Clone()
	author := p.renderUser(record.authorID)
	post.Author = &author
	post.LikeCount = len(record.likes)
	_, post.Liked = record.likes[viewer]
	post.CommentCount = len(record.comments)
	return post
}

func (p *Platform) renderComment(stored commentRecord) model.Comment {
	comment := stored.comment
	user := p.renderUser(stored.userID)
	comment.User = &user
	return comment
}

func (p *Platform) renderCommunity(record *communityRecord, viewer model.ID) model.Community {
	community := record.community
	admin := p.renderUser(record.adminID)
	community.Admin = &admin
	community.MemberCount = len(record.members)
	community.IsMember = slices.Contains(record.members, viewer)
	return community
}

func (p *Platform) renderMessage(record *messageRecord) model.Message {
	message := record.message
	sender := p.renderUser(record.senderID)
	receiver := p.renderUser(record.receiverID)
	message.Sender = &sender
	message.Receiver = &receiver
	return message
}

func paginate[T any](items []T, page, perPage int) ([]T, model.Page) {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	if page < 1 {
		page = 1
	}
	total := len(items)
	meta := model.Page{Total: total, Page: page, PerPage: perPage, Pages: (total + perPage - 1) / perPage}
	start := (page - 1) * perPage
	if start >= total {
		return []T{}, meta
	}
	end := min(start+perPage, total)
	return items[start:end], meta
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return slices.Clone(values)
}

func asAPIError(err error) (*apiError, bool) {
	var target *apiError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
