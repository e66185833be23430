package server

import (
	"net/http"
	"time"

	"github.com/openclack/clack/internal/types"
)

// Inbound event types, used as dispatch-table keys.
const (
	TypeJoin           = "join"
	TypeLeave          = "leave"
	TypeMessageSend    = "message.send"
	TypeMessageEdit    = "message.edit"
	TypeMessageDelete  = "message.delete"
	TypeReactionToggle = "reaction.toggle"
	TypeTypingStart    = "typing.start"
	TypeTypingStop     = "typing.stop"
	TypeStatusSet      = "status.set"
	TypeHuddleCreate   = "huddle.create"
	TypeHuddleJoin     = "huddle.join"
	TypeHuddleLeave    = "huddle.leave"
	TypeHuddleEnd      = "huddle.end"
	TypeHuddleSignal   = "huddle.signal"
	TypeAudioToggle    = "huddle.audio"
	TypeVideoToggle    = "huddle.video"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Type     string          `json:"type"`
	Join     *Join           `json:"join,omitempty"`
	Leave    *Leave          `json:"leave,omitempty"`
	Publish  *Publish        `json:"publish,omitempty"`
	Edit     *Edit           `json:"edit,omitempty"`
	Delete   *Delete         `json:"delete,omitempty"`
	Reaction *ReactionToggle `json:"reaction,omitempty"`
	Typing   *Typing         `json:"typing,omitempty"`
	Status   *Status         `json:"status,omitempty"`
	Huddle   *HuddleRequest  `json:"huddle,omitempty"`
	Signal   *Signal         `json:"signal,omitempty"`
	Audio    *AudioToggle    `json:"audio,omitempty"`
	Video    *VideoToggle    `json:"video,omitempty"`
	UserId   int             `json:"-"`
	client   *Client         `json:"-"`
}

func (m *ClientMessage) GetUserId() int {
	if m.UserId != 0 {
		return m.UserId
	}

	if m.client != nil {
		return m.client.user.Id
	}

	return 0
}

type Join struct {
	Group string `json:"group"`
}

type Leave struct {
	Group string `json:"group"`
}

type Publish struct {
	Body        string             `json:"body"`
	Channel     string             `json:"channel,omitempty"`
	To          int                `json:"to,omitempty"`
	ParentId    int                `json:"parent_id,omitempty"`
	Attachments []types.Attachment `json:"attachments,omitempty"`
}

type Edit struct {
	MessageId int    `json:"message_id"`
	Body      string `json:"body"`
}

type Delete struct {
	MessageId int `json:"message_id"`
}

type ReactionToggle struct {
	MessageId int    `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type Typing struct {
	Group string `json:"group"`
}

type Status struct {
	Status string `json:"status"`
}

type HuddleRequest struct {
	HuddleId string `json:"huddle_id,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

type Signal struct {
	HuddleId string              `json:"huddle_id"`
	To       int                 `json:"to"`
	Payload  types.SignalPayload `json:"payload"`
}

type AudioToggle struct {
	HuddleId string `json:"huddle_id"`
	Muted    bool   `json:"muted"`
}

type VideoToggle struct {
	HuddleId string `json:"huddle_id"`
	On       bool   `json:"on"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response      `json:"response,omitempty"`
	Message      *types.Message `json:"message,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	SkipClient   *Client        `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Notification struct {
	MessageDeleted *MessageDeleted    `json:"message_deleted,omitempty"`
	Reaction       *ReactionChange    `json:"reaction,omitempty"`
	Typing         *TypingChange      `json:"typing,omitempty"`
	Presence       *PresenceChange    `json:"presence,omitempty"`
	HuddleStarted  *HuddleStarted     `json:"huddle_started,omitempty"`
	HuddleEnded    *HuddleEnded       `json:"huddle_ended,omitempty"`
	Participant    *ParticipantChange `json:"participant,omitempty"`
	Signal         *SignalRelay       `json:"signal,omitempty"`
	Audio          *AudioChange       `json:"audio,omitempty"`
	Video          *VideoChange       `json:"video,omitempty"`
}

type MessageDeleted struct {
	MessageId int    `json:"message_id"`
	Group     string `json:"group"`
}

type ReactionChange struct {
	Group    string         `json:"group"`
	Reaction types.Reaction `json:"reaction"`
	Added    bool           `json:"added"`
}

type TypingChange struct {
	Group  string     `json:"group"`
	User   types.User `json:"user"`
	Active bool       `json:"active"`
}

type PresenceChange struct {
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

type HuddleStarted struct {
	Huddle types.Huddle `json:"huddle"`
}

type HuddleEnded struct {
	HuddleId string `json:"huddle_id"`
}

type ParticipantChange struct {
	HuddleId string     `json:"huddle_id"`
	User     types.User `json:"user"`
	Joined   bool       `json:"joined"`
}

type SignalRelay struct {
	HuddleId string              `json:"huddle_id"`
	From     types.User          `json:"from"`
	Payload  types.SignalPayload `json:"payload"`
}

type AudioChange struct {
	HuddleId string `json:"huddle_id"`
	UserId   int    `json:"user_id"`
	Muted    bool   `json:"muted"`
}

type VideoChange struct {
	HuddleId string `json:"huddle_id"`
	UserId   int    `json:"user_id"`
	On       bool   `json:"on"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func errResponse(id, code int, errMsg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
		},
	}
}

func ErrNotFound(id int, what string) *ServerMessage {
	return errResponse(id, http.StatusNotFound, what+" not found")
}

func ErrAccessDenied(id int) *ServerMessage {
	return errResponse(id, http.StatusForbidden, "access denied")
}

func ErrValidation(id int, reason string) *ServerMessage {
	return errResponse(id, http.StatusBadRequest, reason)
}

func ErrConflict(id int) *ServerMessage {
	return errResponse(id, http.StatusConflict, "conflict")
}

func ErrHuddleEnded(id int) *ServerMessage {
	return errResponse(id, http.StatusGone, "huddle ended")
}

func ErrRateLimited(id int) *ServerMessage {
	return errResponse(id, http.StatusTooManyRequests, "rate limit exceeded")
}

func ErrInternalError(id int) *ServerMessage {
	return errResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return errResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := errResponse(0, http.StatusBadRequest, "invalid message format")
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
