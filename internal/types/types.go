package types

import (
	"encoding/json"
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name,omitempty"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Channel struct {
	Id          int       `json:"id"`
	ExternalId  string    `json:"external_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerId     int       `json:"owner_id"`
	Members     []User    `json:"members,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type Message struct {
	Id          int          `json:"id"`
	Group       string       `json:"group"`
	Body        string       `json:"body"`
	Author      User         `json:"author"`
	ParentId    int          `json:"parent_id,omitempty"`
	Edited      bool         `json:"edited"`
	Reactions   []Reaction   `json:"reactions"`
	Attachments []Attachment `json:"attachments"`
	Timestamp   time.Time    `json:"timestamp"`
}

type Reaction struct {
	MessageId int    `json:"message_id"`
	UserId    int    `json:"user_id"`
	Username  string `json:"username,omitempty"`
	Emoji     string `json:"emoji"`
}

type Attachment struct {
	Id          int    `json:"id,omitempty"`
	Name        string `json:"name"`
	Url         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

type Huddle struct {
	ExternalId string     `json:"external_id"`
	Channel    string     `json:"channel,omitempty"`
	CreatorId  int        `json:"creator_id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

type HuddleParticipant struct {
	User       User      `json:"user"`
	JoinedAt   time.Time `json:"joined_at"`
	AudioMuted bool      `json:"audio_muted"`
	VideoOn    bool      `json:"video_on"`
}

// SignalPayload is an opaque connection-negotiation payload relayed between
// huddle participants. The server never interprets its contents.
type SignalPayload = json.RawMessage
