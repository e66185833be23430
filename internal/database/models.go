package database

import (
	"database/sql"
	"time"
)

type User struct {
	Id           int
	Username     string
	DisplayName  string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Channel struct {
	Id          int
	ExternalId  string
	Name        string
	Description string
	OwnerId     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Members     []User
}

// Conversation is the single record for an unordered pair of users. The pair
// is stored normalized (LowUserId < HighUserId) and carries a unique index,
// which is what resolves the concurrent find-or-create race.
type Conversation struct {
	Id         int
	ExternalId string
	LowUserId  int
	HighUserId int
	CreatedAt  time.Time
}

type Message struct {
	Id             int
	Body           string
	AuthorId       int
	ChannelId      int
	ConversationId int
	ParentId       int
	Edited         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// denormalized from joins
	AuthorUsername         string
	AuthorDisplayName      string
	ChannelExternalId      string
	ConversationExternalId string
}

type Reaction struct {
	Id        int
	MessageId int
	AccountId int
	Username  string
	Emoji     string
	CreatedAt time.Time
}

type Attachment struct {
	Id          int
	MessageId   int
	Name        string
	Url         string
	ContentType string
	Size        int64
}

const (
	HuddleStatusActive = "active"
	HuddleStatusEnded  = "ended"
)

type Huddle struct {
	Id                int
	ExternalId        string
	ChannelId         int
	ChannelExternalId string
	CreatorId         int
	Status            string
	StartedAt         time.Time
	EndedAt           sql.NullTime
}

type HuddleParticipant struct {
	Id          int
	HuddleId    int
	AccountId   int
	Username    string
	DisplayName string
	JoinedAt    time.Time
	LeftAt      sql.NullTime
	AudioMuted  bool
	VideoOn     bool
}

type CreateAccountParams struct {
	Username     string
	DisplayName  string
	EmailAddress string
	PasswordHash string
}

type CreateChannelParams struct {
	Name        string
	Description string
	OwnerId     int
	ExternalId  string
}

type CreateMessageParams struct {
	Body           string
	AuthorId       int
	ChannelId      int
	ConversationId int
	ParentId       int
	Attachments    []Attachment
}

type GetMessagesParams struct {
	ChannelId      int
	ConversationId int
	Before         int
	Limit          int
}
