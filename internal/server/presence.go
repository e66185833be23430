package server

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openclack/clack/internal/types"
)

// presenceTTL bounds how stale a presence record can get if the server
// holding its connections dies without cleaning up. Pongs arrive every
// pingInterval, so the TTL must outlive at least one missed refresh.
const presenceTTL = 2 * pongWait

// offlineGrace delays the offline broadcast after the last connection
// drops, so a page reload does not flap presence. Var so tests can shrink
// the window.
var offlineGrace = 5 * time.Second

const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusOffline = "offline"
)

func presenceKey(userId int) string {
	return "presence:" + strconv.Itoa(userId)
}

// PresenceTracker maintains the availability status of every connected
// user. Records live in the ephemeral store under a TTL and are refreshed
// by websocket pong traffic, so presence self-heals when the server or the
// store loses state.
type PresenceTracker struct {
	cs          *ChatServer
	graceTimers map[int]*time.Timer
	mu          sync.Mutex
}

func newPresenceTracker(cs *ChatServer) *PresenceTracker {
	return &PresenceTracker{
		cs:          cs,
		graceTimers: make(map[int]*time.Timer),
	}
}

// ClientOnline records a new connection for the user. A pending offline
// grace timer is cancelled, a reconnect inside the window produces no
// presence traffic at all.
func (pt *PresenceTracker) ClientOnline(user types.User) {
	pt.mu.Lock()
	if t, ok := pt.graceTimers[user.Id]; ok {
		t.Stop()
		delete(pt.graceTimers, user.Id)
	}
	pt.mu.Unlock()

	prev := pt.Status(user.Id)
	if err := pt.cs.eph.SetEx(context.Background(), presenceKey(user.Id), StatusOnline, presenceTTL); err != nil {
		pt.cs.log.Println("presence record:", err)
		return
	}

	if prev != StatusOnline {
		pt.broadcastChange(user, StatusOnline)
	}
}

// Heartbeat re-arms the user's presence TTL. Called from the pong handler,
// so any live socket keeps its owner present. A lapsed record for a user
// who still has connections is restored as online rather than left to read
// as offline.
func (pt *PresenceTracker) Heartbeat(userId int) {
	ctx := context.Background()
	status, ok, err := pt.cs.eph.Get(ctx, presenceKey(userId))
	if err != nil {
		return
	}
	if !ok {
		if !pt.cs.hasConnections(userId) {
			return
		}
		status = StatusOnline
	}

	if err := pt.cs.eph.SetEx(ctx, presenceKey(userId), status, presenceTTL); err != nil {
		pt.cs.log.Println("presence refresh:", err)
	}
}

// ClientGone starts the offline grace window for a user whose last
// connection just dropped. After the window, if the user is still without
// connections, the record is removed and offline is announced.
func (pt *PresenceTracker) ClientGone(user types.User) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if t, ok := pt.graceTimers[user.Id]; ok {
		t.Stop()
	}

	pt.graceTimers[user.Id] = time.AfterFunc(offlineGrace, func() {
		pt.mu.Lock()
		delete(pt.graceTimers, user.Id)
		pt.mu.Unlock()

		if pt.cs.hasConnections(user.Id) {
			return
		}

		if err := pt.cs.eph.Delete(context.Background(), presenceKey(user.Id)); err != nil {
			pt.cs.log.Println("presence delete:", err)
		}

		pt.broadcastChange(user, StatusOffline)
	})
}

// Status returns the user's current availability. A missing or unreadable
// record reads as offline.
func (pt *PresenceTracker) Status(userId int) string {
	status, ok, err := pt.cs.eph.Get(context.Background(), presenceKey(userId))
	if err != nil || !ok {
		return StatusOffline
	}

	return status
}

// Online returns the status of every user with a live presence record.
func (pt *PresenceTracker) Online() (map[int]string, error) {
	ctx := context.Background()
	keys, err := pt.cs.eph.Keys(ctx, "presence:")
	if err != nil {
		return nil, err
	}

	statuses := make(map[int]string, len(keys))
	for _, key := range keys {
		id, err := strconv.Atoi(strings.TrimPrefix(key, "presence:"))
		if err != nil {
			continue
		}

		status, ok, err := pt.cs.eph.Get(ctx, key)
		if err != nil || !ok {
			continue
		}

		statuses[id] = status
	}

	return statuses, nil
}

// broadcastChange tells everyone sharing a group with the user, plus the
// user's own other connections, about the status change.
func (pt *PresenceTracker) broadcastChange(user types.User, status string) {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			Presence: &PresenceChange{
				UserId:   user.Id,
				Username: user.Username,
				Status:   status,
			},
		},
	}

	for _, c := range pt.cs.contactsOf(user.Id) {
		c.queueMessage(msg)
	}
}

// handleStatusSet applies an explicitly chosen availability. Unlike the
// automatic transitions, this writes whatever valid status the user picked.
func (cs *ChatServer) handleStatusSet(msg *ClientMessage) {
	c := msg.client
	status := msg.Status
	if status == nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	switch status.Status {
	case StatusOnline, StatusAway, StatusOffline:
	default:
		c.queueMessage(ErrValidation(msg.Id, "invalid status"))
		return
	}

	// explicit offline is stored, not deleted, so the heartbeat re-arms
	// it instead of resurrecting the user as online
	err := cs.eph.SetEx(context.Background(), presenceKey(c.user.Id), status.Status, presenceTTL)
	if err != nil {
		cs.log.Println("presence record:", err)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
	cs.presence.broadcastChange(c.user, status.Status)
}
