package database

import (
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) CreateChannel(params CreateChannelParams) (Channel, error) {
	args := m.Called(params)
	return args.Get(0).(Channel), args.Error(1)
}
func (m *MockChatRepository) GetChannelByExternalId(externalId string) (Channel, error) {
	args := m.Called(externalId)
	return args.Get(0).(Channel), args.Error(1)
}
func (m *MockChatRepository) ListChannels(accountId int) ([]Channel, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Channel), args.Error(1)
}
func (m *MockChatRepository) AddChannelMember(channelId, accountId int) error {
	args := m.Called(channelId, accountId)
	return args.Error(0)
}
func (m *MockChatRepository) IsChannelMember(channelId, accountId int) bool {
	args := m.Called(channelId, accountId)
	return args.Bool(0)
}
func (m *MockChatRepository) GetConversationByExternalId(externalId string) (Conversation, error) {
	args := m.Called(externalId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockChatRepository) GetConversationByPair(userA, userB int) (Conversation, error) {
	args := m.Called(userA, userB)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockChatRepository) CreateConversation(externalId string, userA, userB int) (Conversation, error) {
	args := m.Called(externalId, userA, userB)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessageById(id int) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) UpdateMessageBody(id int, body string) (Message, error) {
	args := m.Called(id, body)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) DeleteMessage(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockChatRepository) GetMessages(params GetMessagesParams) ([]Message, error) {
	args := m.Called(params)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) GetAttachments(messageId int) ([]Attachment, error) {
	args := m.Called(messageId)
	return args.Get(0).([]Attachment), args.Error(1)
}
func (m *MockChatRepository) IsMessageVisible(messageId, accountId int) bool {
	args := m.Called(messageId, accountId)
	return args.Bool(0)
}
func (m *MockChatRepository) GetReaction(messageId, accountId int, emoji string) (Reaction, error) {
	args := m.Called(messageId, accountId, emoji)
	return args.Get(0).(Reaction), args.Error(1)
}
func (m *MockChatRepository) CreateReaction(messageId, accountId int, emoji string) (Reaction, error) {
	args := m.Called(messageId, accountId, emoji)
	return args.Get(0).(Reaction), args.Error(1)
}
func (m *MockChatRepository) DeleteReaction(messageId, accountId int, emoji string) error {
	args := m.Called(messageId, accountId, emoji)
	return args.Error(0)
}
func (m *MockChatRepository) GetReactions(messageId int) ([]Reaction, error) {
	args := m.Called(messageId)
	return args.Get(0).([]Reaction), args.Error(1)
}
func (m *MockChatRepository) CreateHuddle(externalId string, channelId, creatorId int) (Huddle, error) {
	args := m.Called(externalId, channelId, creatorId)
	return args.Get(0).(Huddle), args.Error(1)
}
func (m *MockChatRepository) GetHuddleByExternalId(externalId string) (Huddle, error) {
	args := m.Called(externalId)
	return args.Get(0).(Huddle), args.Error(1)
}
func (m *MockChatRepository) UpsertHuddleParticipant(huddleId, accountId int) (HuddleParticipant, error) {
	args := m.Called(huddleId, accountId)
	return args.Get(0).(HuddleParticipant), args.Error(1)
}
func (m *MockChatRepository) MarkParticipantLeft(huddleId, accountId int) error {
	args := m.Called(huddleId, accountId)
	return args.Error(0)
}
func (m *MockChatRepository) SetParticipantAudio(huddleId, accountId int, muted bool) error {
	args := m.Called(huddleId, accountId, muted)
	return args.Error(0)
}
func (m *MockChatRepository) SetParticipantVideo(huddleId, accountId int, on bool) error {
	args := m.Called(huddleId, accountId, on)
	return args.Error(0)
}
func (m *MockChatRepository) GetActiveParticipants(huddleId int) ([]HuddleParticipant, error) {
	args := m.Called(huddleId)
	return args.Get(0).([]HuddleParticipant), args.Error(1)
}
func (m *MockChatRepository) EndHuddle(huddleId int) error {
	args := m.Called(huddleId)
	return args.Error(0)
}
