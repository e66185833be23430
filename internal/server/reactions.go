package server

import (
	"errors"
	"unicode/utf8"

	"github.com/openclack/clack/internal/database"
	"github.com/openclack/clack/internal/types"
)

const maxEmojiLength = 16

// handleReactionToggle flips the caller's reaction on a message: absent
// becomes present, present becomes absent. The storage uniqueness constraint
// on (message, user, emoji) makes a lost toggle race converge instead of
// double-inserting.
func (cs *ChatServer) handleReactionToggle(msg *ClientMessage) {
	c := msg.client
	toggle := msg.Reaction
	if toggle == nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	emoji := toggle.Emoji
	if emoji == "" || !utf8.ValidString(emoji) {
		c.queueMessage(ErrValidation(msg.Id, "invalid emoji"))
		return
	}
	if utf8.RuneCountInString(emoji) > maxEmojiLength {
		c.queueMessage(ErrValidation(msg.Id, "invalid emoji"))
		return
	}

	dbMsg, err := cs.db.GetMessageById(toggle.MessageId)
	if err != nil {
		c.queueMessage(cs.storageError(msg.Id, err, "message"))
		return
	}

	// a message the caller cannot see is indistinguishable from a
	// missing one
	if !cs.db.IsMessageVisible(dbMsg.Id, c.user.Id) {
		c.queueMessage(ErrNotFound(msg.Id, "message"))
		return
	}

	added := false
	_, err = cs.db.GetReaction(dbMsg.Id, c.user.Id, emoji)
	switch {
	case err == nil:
		if err := cs.db.DeleteReaction(dbMsg.Id, c.user.Id, emoji); err != nil {
			cs.log.Println("DeleteReaction:", err)
			c.queueMessage(ErrServiceUnavailable(msg.Id))
			return
		}
	case errors.Is(err, database.ErrNotFound):
		_, err = cs.db.CreateReaction(dbMsg.Id, c.user.Id, emoji)
		if errors.Is(err, database.ErrDuplicate) {
			// someone beat us to the insert on another connection,
			// the reaction is present which is what we wanted
			c.queueMessage(NoErrOK(msg.Id, nil))
			return
		}
		if err != nil {
			cs.log.Println("CreateReaction:", err)
			c.queueMessage(ErrServiceUnavailable(msg.Id))
			return
		}
		added = true
	default:
		cs.log.Println("GetReaction:", err)
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
			Reaction: &ReactionChange{
				Group: key.String(),
				Reaction: types.Reaction{
					MessageId: dbMsg.Id,
					UserId:    c.user.Id,
					Username:  c.user.Username,
					Emoji:     emoji,
				},
				Added: added,
			},
		},
	})
}
