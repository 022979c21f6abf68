package model

import "slices"

// User is a platform member. Authors, peers and profiles all use it.
type User struct {
	ID             ID        `json:"public_id"`
	Username       string    `json:"username"`
	Email          string    `json:"email,omitempty"`
	UserType       string    `json:"user_type,omitempty"`
	FullName       string    `json:"full_name,omitempty"`
	ProfileImage   string    `json:"profile_image,omitempty"`
	Bio            string    `json:"bio,omitempty"`
	Location       string    `json:"location,omitempty"`
	ExpertiseArea  string    `json:"expertise_area,omitempty"`
	PostCount      int       `json:"post_count"`
	FollowerCount  int       `json:"follower_count"`
	FollowingCount int       `json:"following_count"`
	CreatedAt      Timestamp `json:"created_at"`
}

// Clone returns a copy of the user.
func (u User) Clone() User {
	return u
}

// Post is a feed entry with its engagement counters.
type Post struct {
	ID           ID        `json:"public_id"`
	Author       *User     `json:"author"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Category     string    `json:"category,omitempty"`
	Tags         []string  `json:"tags"`
	ImageURLs    []string  `json:"image_urls"`
	LikeCount    int       `json:"like_count"`
	Liked        bool      `json:"is_liked"`
	CommentCount int       `json:"comment_count"`
	CreatedAt    Timestamp `json:"created_at"`
	UpdatedAt    Timestamp `json:"updated_at"`
}

// Clone returns a deep copy of the post.
func (p Post) Clone() Post {
	clone := p
	clone.Tags = slices.Clone(p.Tags)
	clone.ImageURLs = slices.Clone(p.ImageURLs)
	if p.Author != nil {
		author := *p.Author
		clone.Author = &author
	}
	return clone
}

// Comment belongs to exactly one post.
type Comment struct {
	ID        ID        `json:"public_id"`
	PostID    ID        `json:"post_id"`
	User      *User     `json:"user"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"created_at"`
}

// Clone returns a deep copy of the comment.
func (c Comment) Clone() Comment {
	clone := c
	if c.User != nil {
		user := *c.User
		clone.User = &user
	}
	return clone
}

// Community groups members around a topic.
type Community struct {
	ID          ID        `json:"public_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Admin       *User     `json:"admin"`
	ImageURL    string    `json:"image_url,omitempty"`
	Public      bool      `json:"is_public"`
	MemberCount int       `json:"member_count"`
	IsMember    bool      `json:"is_member"`
	CreatedAt   Timestamp `json:"created_at"`
}

// Clone returns a deep copy of the community.
func (c Community) Clone() Community {
	clone := c
	if c.Admin != nil {
		admin := *c.Admin
		clone.Admin = &admin
	}
	return clone
}

// Message is one direct message between two users.
type Message struct {
	ID        ID        `json:"public_id"`
	Sender    *User     `json:"sender"`
	Receiver  *User     `json:"receiver"`
	Content   string    `json:"content"`
	Read      bool      `json:"is_read"`
	CreatedAt Timestamp `json:"created_at"`
}

// SenderID returns the sender's id or an empty ID.
func (m Message) SenderID() ID {
	if m.Sender == nil {
		return ""
	}
	return m.Sender.ID
}

// ReceiverID returns the receiver's id or an empty ID.
func (m Message) ReceiverID() ID {
	if m.Receiver == nil {
		return ""
	}
	return m.Receiver.ID
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	clone := m
	if m.Sender != nil {
		sender := *m.Sender
		clone.Sender = &sender
	}
	if m.Receiver != nil {
		receiver := *m.Receiver
		clone.Receiver = &receiver
	}
	return clone
}

// Conversation indexes the exchange with one peer.
type Conversation struct {
	Peer        User      `json:"user"`
	LastMessage *Message  `json:"last_message"`
	UnreadCount int       `json:"unread_count"`
	LastUpdated Timestamp `json:"last_updated"`
}

// Unread reports whether the peer has unread messages for the viewer.
func (c Conversation) Unread() bool {
	return c.UnreadCount > 0
}

// Clone returns a deep copy of the conversation.
func (c Conversation) Clone() Conversation {
	clone := c
	if c.LastMessage != nil {
		last := c.LastMessage.Clone()
		clone.LastMessage = &last
	}
	return clone
}

// CloneAll deep-copies a slice of entities using their Clone method.
func CloneAll[T interface{ Clone() T }](items []T) []T {
	if items == nil {
		return nil
	}
	out := make([]T, len(items))
	for index, item := range items {
		out[index] = item.Clone()
	}
	return out
}
