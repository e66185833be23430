package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openclack/clack/internal/database"
	"github.com/openclack/clack/internal/types"
)

func TestCreateAccount(t *testing.T) {
	db := &database.MockChatRepository{}
	s := newTestApp(t, db)

	db.On("CreateAccount", mock.MatchedBy(func(p database.CreateAccountParams) bool {
		return p.Username == "alice" &&
			p.EmailAddress == "alice@example.com" &&
			p.PasswordHash != "" && p.PasswordHash != "hunter2"
	})).Return(database.User{Id: 1, Username: "alice", EmailAddress: "alice@example.com"}, nil)

	body := `{"email":"alice@example.com","username":"alice","display_name":"Alice","password":"hunter2"}`
	w := httptest.NewRecorder()
	s.createAccount(w, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body)))

	assert.Equal(t, http.StatusCreated, w.Code)

	var u types.User
	require.NoError(t, json.NewDecoder(w.Body).Decode(&u))
	assert.Equal(t, 1, u.Id)
	assert.Equal(t, "alice", u.Username)

	db.AssertExpectations(t)
}

func TestCreateAccount_MissingFields(t *testing.T) {
	db := &database.MockChatRepository{}
	s := newTestApp(t, db)

	body := `{"email":"","username":"alice","password":"hunter2"}`
	w := httptest.NewRecorder()
	s.createAccount(w, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	db.AssertNotCalled(t, "CreateAccount")
}

func TestCreateAccount_DuplicateEmail(t *testing.T) {
	db := &database.MockChatRepository{}
	s := newTestApp(t, db)

	db.On("CreateAccount", mock.Anything).Return(database.User{}, database.ErrDuplicate)

	body := `{"email":"alice@example.com","username":"alice","password":"hunter2"}`
	w := httptest.NewRecorder()
	s.createAccount(w, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body)))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLogin(t *testing.T) {
	db := &database.MockChatRepository{}
	s := newTestApp(t, db)

	hash, err := hashPassword("hunter2")
	require.NoError(t, err)

	db.On("GetAccountByEmail", "alice@example.com").Return(database.User{
		Id: 1, Username: "alice", EmailAddress: "alice@example.com", PasswordHash: hash,
	}, nil)

	body := `{"email":"alice@example.com","password":"hunter2"}`
	w := httptest.NewRecorder()
	s.login(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string     `json:"token"`
		User  types.User `json:"user"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.User.Id)
	require.NotEmpty(t, resp.Token)

	userId, err := s.extractUserIdFromToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, 1, userId)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, tokenCookieKey, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
}

func TestLogin_WrongPassword(t *testing.T) {
	db := &database.MockChatRepository{}
	s := newTestApp(t, db)

	hash, err := hashPassword("hunter2")
	require.NoError(t, err)

	db.On("GetAccountByEmail", "alice@example.com").Return(database.User{
		Id: 1, EmailAddress: "alice@example.com", PasswordHash: hash,
	}, nil)

	body := `{"email":"alice@example.com","password":"wrong"}`
	w := httptest.NewRecorder()
	s.login(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body)))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_UnknownEmailIndistinguishable(t *testing.T) {
	db := &database.MockChatRepository{}
	s := newTestApp(t, db)

	db.On("GetAccountByEmail", "ghost@example.com").Return(database.User{}, database.ErrNotFound)

	body := `{"email":"ghost@example.com","password":"hunter2"}`
	w := httptest.NewRecorder()
	s.login(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body)))

	assert.Equal(t, http.StatusUnauthorized, w.Code, "missing accounts must not be distinguishable from bad passwords")
}

func TestCreateChannel(t *testing.T) {
	db := &database.MockChatRepository{}
	s := newTestApp(t, db)

	db.On("CreateChannel", mock.MatchedBy(func(p database.CreateChannelParams) bool {
		return p.Name == "general" && p.OwnerId == 1 && p.ExternalId != ""
	})).Return(database.Channel{Id: 10, ExternalId: "ch1", Name: "general", OwnerId: 1}, nil)

	body := `{"name":"general","description":"the water cooler"}`
	r := httptest.NewRequest(http.MethodPost, "/api/channels", strings.NewReader(body))
	r = r.WithContext(WithUserId(r.Context(), 1))

	w := httptest.NewRecorder()
	s.createChannel(w, r)

	assert.Equal(t, http.StatusCreated, w.Code)

	var ch types.Channel
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ch))
	assert.Equal(t, "ch1", ch.ExternalId)

	db.AssertExpectations(t)
}

func TestJoinChannel_AlreadyMember(t *testing.T) {
	db := &database.MockChatRepository{}
	s := newTestApp(t, db)

	db.On("GetChannelByExternalId", "ch1").Return(database.Channel{Id: 10, ExternalId: "ch1"}, nil)
	db.On("AddChannelMember", 10, 1).Return(database.ErrDuplicate)

	r := httptest.NewRequest(http.MethodPost, "/api/channels/join", strings.NewReader(`{"channel":"ch1"}`))
	r = r.WithContext(WithUserId(r.Context(), 1))

	w := httptest.NewRecorder()
	s.joinChannel(w, r)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetMessages_ChannelHistory(t *testing.T) {
	db := &database.MockChatRepository{}
	s := newTestApp(t, db)

	db.On("GetChannelByExternalId", "ch1").Return(database.Channel{Id: 10, ExternalId: "ch1"}, nil)
	db.On("IsChannelMember", 10, 1).Return(true)
	db.On("GetMessages", database.GetMessagesParams{ChannelId: 10, Before: 100, Limit: 50}).
		Return([]database.Message{
			{Id: 99, Body: "hello", AuthorId: 2, ChannelId: 10, AuthorUsername: "bob"},
		}, nil)
	db.On("GetReactions", 99).Return([]database.Reaction{}, nil)
	db.On("GetAttachments", 99).Return([]database.Attachment{}, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/messages?group=channel/ch1&before=100&limit=50", nil)
	r = r.WithContext(WithUserId(r.Context(), 1))

	w := httptest.NewRecorder()
	s.getMessages(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var messages []types.Message
	require.NoError(t, json.NewDecoder(w.Body).Decode(&messages))
	require.Len(t, messages, 1)
	assert.Equal(t, 99, messages[0].Id)
	assert.Equal(t, "channel/ch1", messages[0].Group)
	assert.Equal(t, "bob", messages[0].Author.Username)

	db.AssertExpectations(t)
}

func TestGetMessages_NonMemberForbidden(t *testing.T) {
	db := &database.MockChatRepository{}
	s := newTestApp(t, db)

	db.On("GetChannelByExternalId", "ch1").Return(database.Channel{Id: 10, ExternalId: "ch1"}, nil)
	db.On("IsChannelMember", 10, 2).Return(false)

	r := httptest.NewRequest(http.MethodGet, "/api/messages?group=channel/ch1", nil)
	r = r.WithContext(WithUserId(r.Context(), 2))

	w := httptest.NewRecorder()
	s.getMessages(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	db.AssertNotCalled(t, "GetMessages")
}

func TestGetMessages_ConversationStrangerForbidden(t *testing.T) {
	db := &database.MockChatRepository{}
	s := newTestApp(t, db)

	db.On("GetConversationByExternalId", "conv1").Return(database.Conversation{
		Id: 5, ExternalId: "conv1", LowUserId: 1, HighUserId: 2,
	}, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/messages?group=dm/conv1", nil)
	r = r.WithContext(WithUserId(r.Context(), 3))

	w := httptest.NewRecorder()
	s.getMessages(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetMessages_BadGroup(t *testing.T) {
	db := &database.MockChatRepository{}
	s := newTestApp(t, db)

	r := httptest.NewRequest(http.MethodGet, "/api/messages?group=whatever", nil)
	r = r.WithContext(WithUserId(r.Context(), 1))

	w := httptest.NewRecorder()
	s.getMessages(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPresence(t *testing.T) {
	db := &database.MockChatRepository{}
	s := newTestApp(t, db)

	r := httptest.NewRequest(http.MethodGet, "/api/presence", nil)
	r = r.WithContext(WithUserId(r.Context(), 1))

	w := httptest.NewRecorder()
	s.getPresence(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var statuses map[int]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&statuses))
	assert.Empty(t, statuses)
}

func TestServeWs_UnauthenticatedBeforeUpgrade(t *testing.T) {
	db := &database.MockChatRepository{}
	s := newTestApp(t, db)

	// no identity in context, the handshake must be refused without
	// touching the upgrader
	w := httptest.NewRecorder()
	s.serveWs(w, httptest.NewRequest(http.MethodGet, "/ws", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	db.AssertNotCalled(t, "GetAccountById")
}
