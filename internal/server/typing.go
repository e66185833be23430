package server

import (
	"context"
	"strconv"
	"time"
)

// typingTTL is the lifetime of a typing marker. A client that goes silent
// without sending an explicit stop simply lets the marker lapse.
const typingTTL = 5 * time.Second

func typingKey(group GroupKey, userId int) string {
	return "typing:" + group.String() + ":" + strconv.Itoa(userId)
}

// handleTypingStart marks the caller as typing in a group they have joined
// and tells the other members. No acknowledgement is sent on success;
// typing traffic is too chatty to ack.
func (cs *ChatServer) handleTypingStart(msg *ClientMessage) {
	cs.handleTyping(msg, true)
}

func (cs *ChatServer) handleTypingStop(msg *ClientMessage) {
	cs.handleTyping(msg, false)
}

func (cs *ChatServer) handleTyping(msg *ClientMessage, active bool) {
	c := msg.client
	typing := msg.Typing
	if typing == nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	key, err := ParseGroupKey(typing.Group)
	if err != nil {
		c.queueMessage(ErrValidation(msg.Id, "invalid group"))
		return
	}

	// membership was checked at join time, not being joined means not
	// being allowed to signal here
	g := c.getGroup(key.String())
	if g == nil {
		c.queueMessage(ErrAccessDenied(msg.Id))
		return
	}

	ctx := context.Background()
	if active {
		err = cs.eph.SetEx(ctx, typingKey(key, c.user.Id), "1", typingTTL)
	} else {
		err = cs.eph.Delete(ctx, typingKey(key, c.user.Id))
	}
	if err != nil {
		// the marker is advisory, keep going without it
		cs.log.Println("typing marker:", err)
	}

	g.broadcast(&ServerMessage{
		Notification: &Notification{
			Typing: &TypingChange{
				Group:  key.String(),
				User:   c.user,
				Active: active,
			},
		},
		SkipClient: c,
	})
}
