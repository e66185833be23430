package database

type ChatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)

	CreateChannel(params CreateChannelParams) (Channel, error)
	GetChannelByExternalId(externalId string) (Channel, error)
	ListChannels(accountId int) ([]Channel, error)
	AddChannelMember(channelId, accountId int) error
	IsChannelMember(channelId, accountId int) bool

	GetConversationByExternalId(externalId string) (Conversation, error)
	GetConversationByPair(userA, userB int) (Conversation, error)
	CreateConversation(externalId string, userA, userB int) (Conversation, error)

	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessageById(id int) (Message, error)
	UpdateMessageBody(id int, body string) (Message, error)
	DeleteMessage(id int) error
	GetMessages(params GetMessagesParams) ([]Message, error)
	GetAttachments(messageId int) ([]Attachment, error)
	IsMessageVisible(messageId, accountId int) bool

	GetReaction(messageId, accountId int, emoji string) (Reaction, error)
	CreateReaction(messageId, accountId int, emoji string) (Reaction, error)
	DeleteReaction(messageId, accountId int, emoji string) error
	GetReactions(messageId int) ([]Reaction, error)

	CreateHuddle(externalId string, channelId, creatorId int) (Huddle, error)
	GetHuddleByExternalId(externalId string) (Huddle, error)
	UpsertHuddleParticipant(huddleId, accountId int) (HuddleParticipant, error)
	MarkParticipantLeft(huddleId, accountId int) error
	SetParticipantAudio(huddleId, accountId int, muted bool) error
	SetParticipantVideo(huddleId, accountId int, on bool) error
	GetActiveParticipants(huddleId int) ([]HuddleParticipant, error)
	EndHuddle(huddleId int) error
}
