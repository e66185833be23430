package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openclack/clack/internal/database"
	"github.com/openclack/clack/internal/server"
	"github.com/openclack/clack/internal/types"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type CreateChannelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type JoinChannelRequest struct {
	Channel string `json:"channel"`
}

func (s *ClackApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ClackApp) storageError(err error) *ApiError {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return NewNotFoundError()
	case errors.Is(err, database.ErrDuplicate):
		return NewConflictError()
	default:
		return NewInternalServerError(err)
	}
}

func (s *ClackApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateAccountParams{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	}

	newUser, err := s.db.CreateAccount(params)
	if err != nil {
		errResp := s.storageError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.User{
		Id:           newUser.Id,
		Username:     newUser.Username,
		DisplayName:  newUser.DisplayName,
		EmailAddress: newUser.EmailAddress,
		CreatedAt:    newUser.CreatedAt,
		UpdatedAt:    newUser.UpdatedAt,
	})
}

func (s *ClackApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.Email == "" || lr.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(lr.Email)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			// same answer as a wrong password, account existence is
			// not disclosed
			errResp = NewUnauthorizedError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.createJwtForSession(dbUser.Id, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, map[string]any{
		"token": token,
		"user": types.User{
			Id:           dbUser.Id,
			Username:     dbUser.Username,
			DisplayName:  dbUser.DisplayName,
			EmailAddress: dbUser.EmailAddress,
			CreatedAt:    dbUser.CreatedAt,
			UpdatedAt:    dbUser.UpdatedAt,
		},
	})
}

func (s *ClackApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		errResp := s.storageError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.User{
		Id:           user.Id,
		Username:     user.Username,
		DisplayName:  user.DisplayName,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	})
}

func (s *ClackApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

func (s *ClackApp) createChannel(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Println("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newChannel, err := s.db.CreateChannel(database.CreateChannelParams{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		OwnerId:     userId,
		ExternalId:  sid,
	})
	if err != nil {
		errResp := s.storageError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.Channel{
		Id:          newChannel.Id,
		ExternalId:  newChannel.ExternalId,
		Name:        newChannel.Name,
		Description: newChannel.Description,
		OwnerId:     newChannel.OwnerId,
		CreatedAt:   newChannel.CreatedAt,
		UpdatedAt:   newChannel.UpdatedAt,
	})
}

func (s *ClackApp) listChannels(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbChannels, err := s.db.ListChannels(userId)
	if err != nil {
		s.log.Println("list channels:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	channels := make([]types.Channel, 0, len(dbChannels))
	for _, ch := range dbChannels {
		channels = append(channels, types.Channel{
			Id:          ch.Id,
			ExternalId:  ch.ExternalId,
			Name:        ch.Name,
			Description: ch.Description,
			OwnerId:     ch.OwnerId,
		})
	}

	s.writeJson(w, http.StatusOK, channels)
}

func (s *ClackApp) joinChannel(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req JoinChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Channel == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	channel, err := s.db.GetChannelByExternalId(req.Channel)
	if err != nil {
		errResp := s.storageError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.AddChannelMember(channel.Id, userId); err != nil {
		errResp := s.storageError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// getMessages returns a page of history for a group the caller belongs to,
// newest first, paged with before/limit.
func (s *ClackApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	key, err := server.ParseGroupKey(r.URL.Query().Get("group"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.GetMessagesParams{}

	switch key.Kind {
	case server.GroupChannel:
		channel, err := s.db.GetChannelByExternalId(key.Id)
		if err != nil {
			errResp := s.storageError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		if !s.db.IsChannelMember(channel.Id, userId) {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		params.ChannelId = channel.Id
	case server.GroupConversation:
		conv, err := s.db.GetConversationByExternalId(key.Id)
		if err != nil {
			errResp := s.storageError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		if conv.LowUserId != userId && conv.HighUserId != userId {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		params.ConversationId = conv.Id
	default:
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		params.Before, err = strconv.Atoi(beforeStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		params.Limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	dbMessages, err := s.db.GetMessages(params)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages := make([]types.Message, 0, len(dbMessages))
	for _, msg := range dbMessages {
		messages = append(messages, s.wireMessage(key, msg))
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *ClackApp) wireMessage(key server.GroupKey, msg database.Message) types.Message {
	wire := types.Message{
		Id:    msg.Id,
		Group: key.String(),
		Body:  msg.Body,
		Author: types.User{
			Id:          msg.AuthorId,
			Username:    msg.AuthorUsername,
			DisplayName: msg.AuthorDisplayName,
		},
		ParentId:    msg.ParentId,
		Edited:      msg.Edited,
		Reactions:   []types.Reaction{},
		Attachments: []types.Attachment{},
		Timestamp:   msg.CreatedAt,
	}

	reactions, err := s.db.GetReactions(msg.Id)
	if err != nil {
		s.log.Println("get reactions:", err)
	}
	for _, re := range reactions {
		wire.Reactions = append(wire.Reactions, types.Reaction{
			MessageId: re.MessageId,
			UserId:    re.AccountId,
			Username:  re.Username,
			Emoji:     re.Emoji,
		})
	}

	attachments, err := s.db.GetAttachments(msg.Id)
	if err != nil {
		s.log.Println("get attachments:", err)
	}
	for _, att := range attachments {
		wire.Attachments = append(wire.Attachments, types.Attachment{
			Id:          att.Id,
			Name:        att.Name,
			Url:         att.Url,
			ContentType: att.ContentType,
			Size:        att.Size,
		})
	}

	return wire
}

func (s *ClackApp) getPresence(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.cs.Presence().Online()
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, statuses)
}

func (s *ClackApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(id)
	if err != nil {
		errResp := s.storageError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser client
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.User{
		Id:          user.Id,
		Username:    user.Username,
		DisplayName: user.DisplayName,
	}, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
