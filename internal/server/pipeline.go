package server

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/openclack/clack/internal/database"
	"github.com/openclack/clack/internal/types"
)

const (
	maxMessageBody = 4096
	// per-user ceiling on message sends within one rate window
	sendRateLimit  = 120
	sendRateWindow = time.Minute
)

// handlePublish validates, persists and fans out a chat message. The target
// is exactly one of a channel or another user; user targets resolve through
// conversation find-or-create.
func (cs *ChatServer) handlePublish(msg *ClientMessage) {
	c := msg.client
	pub := msg.Publish
	if pub == nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	body := strings.TrimSpace(pub.Body)
	if body == "" {
		c.queueMessage(ErrValidation(msg.Id, "message body is empty"))
		return
	}
	if utf8.RuneCountInString(body) > maxMessageBody {
		c.queueMessage(ErrValidation(msg.Id, "message body too long"))
		return
	}

	if (pub.Channel != "") == (pub.To != 0) {
		c.queueMessage(ErrValidation(msg.Id, "exactly one of channel or to must be set"))
		return
	}

	if cs.rateLimited(c.user.Id) {
		c.queueMessage(ErrRateLimited(msg.Id))
		return
	}

	params := database.CreateMessageParams{
		Body:     body,
		AuthorId: c.user.Id,
		ParentId: pub.ParentId,
	}

	var key GroupKey
	var parties []int

	if pub.Channel != "" {
		channel, err := cs.db.GetChannelByExternalId(pub.Channel)
		if err != nil {
			c.queueMessage(cs.storageError(msg.Id, err, "channel"))
			return
		}
		if !cs.db.IsChannelMember(channel.Id, c.user.Id) {
			c.queueMessage(ErrAccessDenied(msg.Id))
			return
		}

		params.ChannelId = channel.Id
		key = GroupKey{Kind: GroupChannel, Id: channel.ExternalId}
		parties = []int{c.user.Id}
	} else {
		if pub.To == c.user.Id {
			c.queueMessage(ErrValidation(msg.Id, "cannot start a conversation with yourself"))
			return
		}
		if _, err := cs.db.GetAccountById(pub.To); err != nil {
			c.queueMessage(cs.storageError(msg.Id, err, "user"))
			return
		}

		conv, err := cs.findOrCreateConversation(c.user.Id, pub.To)
		if err != nil {
			c.queueMessage(cs.storageError(msg.Id, err, "conversation"))
			return
		}

		params.ConversationId = conv.Id
		key = GroupKey{Kind: GroupConversation, Id: conv.ExternalId}
		parties = []int{c.user.Id, pub.To}
	}

	if pub.ParentId != 0 {
		parent, err := cs.db.GetMessageById(pub.ParentId)
		if err != nil {
			c.queueMessage(cs.storageError(msg.Id, err, "parent message"))
			return
		}
		if parent.ChannelId != params.ChannelId || parent.ConversationId != params.ConversationId {
			c.queueMessage(ErrValidation(msg.Id, "parent message belongs to a different group"))
			return
		}
	}

	for _, att := range pub.Attachments {
		params.Attachments = append(params.Attachments, database.Attachment{
			Name:        att.Name,
			Url:         att.Url,
			ContentType: att.ContentType,
			Size:        att.Size,
		})
	}

	dbMsg, err := cs.db.CreateMessage(params)
	if err != nil {
		cs.log.Println("CreateMessage:", err)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"message_id": dbMsg.Id}))
	cs.stats.Incr(MetricMessagesSent)

	cs.deliver(key, parties, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: dbMsg.CreatedAt},
		Message: &types.Message{
			Id:          dbMsg.Id,
			Group:       key.String(),
			Body:        dbMsg.Body,
			Author:      c.user,
			ParentId:    dbMsg.ParentId,
			Reactions:   []types.Reaction{},
			Attachments: pub.Attachments,
			Timestamp:   dbMsg.CreatedAt,
		},
	})
}

// findOrCreateConversation resolves the single conversation for an unordered
// user pair. Losing the insert race surfaces as ErrDuplicate, which means
// the other side just created the row; re-read and use theirs.
func (cs *ChatServer) findOrCreateConversation(userA, userB int) (database.Conversation, error) {
	conv, err := cs.db.GetConversationByPair(userA, userB)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return database.Conversation{}, err
	}

	sid, err := cs.generateShortId()
	if err != nil {
		return database.Conversation{}, err
	}

	conv, err = cs.db.CreateConversation(sid, userA, userB)
	if errors.Is(err, database.ErrDuplicate) {
		return cs.db.GetConversationByPair(userA, userB)
	}

	return conv, err
}

func (cs *ChatServer) handleEdit(msg *ClientMessage) {
	c := msg.client
	edit := msg.Edit
	if edit == nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	body := strings.TrimSpace(edit.Body)
	if body == "" {
		c.queueMessage(ErrValidation(msg.Id, "message body is empty"))
		return
	}
	if utf8.RuneCountInString(body) > maxMessageBody {
		c.queueMessage(ErrValidation(msg.Id, "message body too long"))
		return
	}

	dbMsg, err := cs.db.GetMessageById(edit.MessageId)
	if err != nil {
		c.queueMessage(cs.storageError(msg.Id, err, "message"))
		return
	}
	if dbMsg.AuthorId != c.user.Id {
		c.queueMessage(ErrAccessDenied(msg.Id))
		return
	}

	updated, err := cs.db.UpdateMessageBody(dbMsg.Id, body)
	if err != nil {
		cs.log.Println("UpdateMessageBody:", err)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	hydrated, err := cs.hydrateMessage(updated)
	if err != nil {
		cs.log.Println("hydrate message:", err)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))

	key, parties, err := cs.messageAudience(updated)
	if err != nil {
		cs.log.Println("message audience:", err)
		return
	}

	cs.deliver(key, parties, &ServerMessage{Message: hydrated})
}

// handleDelete broadcasts a deletion by id only, so clients can drop the
// message without the server re-sending content.
func (cs *ChatServer) handleDelete(msg *ClientMessage) {
	c := msg.client
	del := msg.Delete
	if del == nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	dbMsg, err := cs.db.GetMessageById(del.MessageId)
	if err != nil {
		c.queueMessage(cs.storageError(msg.Id, err, "message"))
		return
	}
	if dbMsg.AuthorId != c.user.Id {
		c.queueMessage(ErrAccessDenied(msg.Id))
		return
	}

	if err := cs.db.DeleteMessage(dbMsg.Id); err != nil {
		cs.log.Println("DeleteMessage:", err)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))

	key, parties, err := cs.messageAudience(dbMsg)
	if err != nil {
		cs.log.Println("message audience:", err)
		return
	}

	cs.deliver(key, parties, &ServerMessage{
		Notification: &Notification{
			MessageDeleted: &MessageDeleted{
				MessageId: dbMsg.Id,
				Group:     key.String(),
			},
		},
	})
}

// messageAudience resolves the broadcast group of a stored message plus the
// user ids whose personal groups should also receive it.
func (cs *ChatServer) messageAudience(msg database.Message) (GroupKey, []int, error) {
	if msg.ChannelId != 0 {
		return GroupKey{Kind: GroupChannel, Id: msg.ChannelExternalId}, []int{msg.AuthorId}, nil
	}

	conv, err := cs.db.GetConversationByExternalId(msg.ConversationExternalId)
	if err != nil {
		return GroupKey{}, nil, err
	}

	return GroupKey{Kind: GroupConversation, Id: conv.ExternalId},
		[]int{conv.LowUserId, conv.HighUserId}, nil
}

// hydrateMessage builds the full wire representation of a stored message:
// author profile, current reactions and attachment references.
func (cs *ChatServer) hydrateMessage(msg database.Message) (*types.Message, error) {
	group := GroupKey{Kind: GroupChannel, Id: msg.ChannelExternalId}
	if msg.ChannelId == 0 {
		group = GroupKey{Kind: GroupConversation, Id: msg.ConversationExternalId}
	}

	reactions, err := cs.db.GetReactions(msg.Id)
	if err != nil {
		return nil, err
	}

	attachments, err := cs.db.GetAttachments(msg.Id)
	if err != nil {
		return nil, err
	}

	hydrated := &types.Message{
		Id:    msg.Id,
		Group: group.String(),
		Body:  msg.Body,
		Author: types.User{
			Id:          msg.AuthorId,
			Username:    msg.AuthorUsername,
			DisplayName: msg.AuthorDisplayName,
		},
		ParentId:    msg.ParentId,
		Edited:      msg.Edited,
		Reactions:   make([]types.Reaction, 0, len(reactions)),
		Attachments: make([]types.Attachment, 0, len(attachments)),
		Timestamp:   msg.CreatedAt,
	}

	for _, r := range reactions {
		hydrated.Reactions = append(hydrated.Reactions, types.Reaction{
			MessageId: r.MessageId,
			UserId:    r.AccountId,
			Username:  r.Username,
			Emoji:     r.Emoji,
		})
	}

	for _, a := range attachments {
		hydrated.Attachments = append(hydrated.Attachments, types.Attachment{
			Id:          a.Id,
			Name:        a.Name,
			Url:         a.Url,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}

	return hydrated, nil
}

// rateLimited bumps the user's send counter in the ephemeral store. A store
// failure degrades to allowing the send rather than blocking chat.
func (cs *ChatServer) rateLimited(userId int) bool {
	n, err := cs.eph.Incr(context.Background(), "rate:send:"+strconv.Itoa(userId), sendRateWindow)
	if err != nil {
		cs.log.Println("rate counter:", err)
		return false
	}

	return n > sendRateLimit
}
