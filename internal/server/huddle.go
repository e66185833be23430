package server

import (
	"errors"

	"github.com/openclack/clack/internal/database"
	"github.com/openclack/clack/internal/types"
)

// handleHuddleCreate starts a huddle, optionally anchored to a channel. The
// creator becomes the first participant and is attached to the huddle group
// immediately; channel members are told a huddle started so they can join.
func (cs *ChatServer) handleHuddleCreate(msg *ClientMessage) {
	c := msg.client
	req := msg.Huddle
	if req == nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	var channel database.Channel
	if req.Channel != "" {
		var err error
		channel, err = cs.db.GetChannelByExternalId(req.Channel)
		if err != nil {
			c.queueMessage(cs.storageError(msg.Id, err, "channel"))
			return
		}
		if !cs.db.IsChannelMember(channel.Id, c.user.Id) {
			c.queueMessage(ErrAccessDenied(msg.Id))
			return
		}
	}

	sid, err := cs.generateShortId()
	if err != nil {
		cs.log.Println("short id:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	huddle, err := cs.db.CreateHuddle(sid, channel.Id, c.user.Id)
	if err != nil {
		cs.log.Println("CreateHuddle:", err)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}
	huddle.ChannelExternalId = channel.ExternalId

	participant, err := cs.db.UpsertHuddleParticipant(huddle.Id, c.user.Id)
	if err != nil {
		cs.log.Println("UpsertHuddleParticipant:", err)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}
	participant.Username = c.user.Username
	participant.DisplayName = c.user.DisplayName

	key := GroupKey{Kind: GroupHuddle, Id: huddle.ExternalId}
	cs.groupFor(key).addClient(c)
	cs.stats.Incr(MetricActiveHuddles)

	wire := huddleWire(huddle)
	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"huddle":       wire,
		"participants": rosterWire([]database.HuddleParticipant{participant}),
	}))

	if channel.ExternalId != "" {
		if g := cs.getGroup(GroupKey{Kind: GroupChannel, Id: channel.ExternalId}); g != nil {
			g.broadcast(&ServerMessage{
				Notification: &Notification{
					HuddleStarted: &HuddleStarted{Huddle: wire},
				},
				SkipClient: c,
			})
		}
	}
}

// handleHuddleJoin admits the caller to an active huddle. The huddle
// lifecycle is one-way, so a huddle that has ended stays ended and joining
// it fails rather than reviving it.
func (cs *ChatServer) handleHuddleJoin(msg *ClientMessage) {
	c := msg.client
	req := msg.Huddle
	if req == nil || req.HuddleId == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	huddle, err := cs.db.GetHuddleByExternalId(req.HuddleId)
	if err != nil {
		c.queueMessage(cs.storageError(msg.Id, err, "huddle"))
		return
	}
	if huddle.Status != database.HuddleStatusActive {
		c.queueMessage(ErrHuddleEnded(msg.Id))
		return
	}
	if huddle.ChannelId != 0 && !cs.db.IsChannelMember(huddle.ChannelId, c.user.Id) {
		c.queueMessage(ErrAccessDenied(msg.Id))
		return
	}

	if _, err := cs.db.UpsertHuddleParticipant(huddle.Id, c.user.Id); err != nil {
		// the insert is guarded on huddle status, so not-found here means
		// the huddle ended between the read above and the insert
		if errors.Is(err, database.ErrNotFound) {
			c.queueMessage(ErrHuddleEnded(msg.Id))
			return
		}
		cs.log.Println("UpsertHuddleParticipant:", err)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	key := GroupKey{Kind: GroupHuddle, Id: huddle.ExternalId}
	g := cs.groupFor(key)
	g.addClient(c)

	roster, err := cs.db.GetActiveParticipants(huddle.Id)
	if err != nil {
		cs.log.Println("GetActiveParticipants:", err)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"huddle":       huddleWire(huddle),
		"participants": rosterWire(roster),
	}))

	g.broadcast(&ServerMessage{
		Notification: &Notification{
			Participant: &ParticipantChange{
				HuddleId: huddle.ExternalId,
				User:     c.user,
				Joined:   true,
			},
		},
		SkipClient: c,
	})
}

func (cs *ChatServer) handleHuddleLeave(msg *ClientMessage) {
	c := msg.client
	req := msg.Huddle
	if req == nil || req.HuddleId == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	huddle, err := cs.db.GetHuddleByExternalId(req.HuddleId)
	if err != nil {
		c.queueMessage(cs.storageError(msg.Id, err, "huddle"))
		return
	}

	if huddle.Status == database.HuddleStatusActive {
		cs.leaveHuddle(huddle, c.user)
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
}

// leaveHuddleOnDisconnect handles the implicit leave when a participant's
// last connection in the huddle group drops.
func (cs *ChatServer) leaveHuddleOnDisconnect(externalId string, user types.User) {
	huddle, err := cs.db.GetHuddleByExternalId(externalId)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			cs.log.Println("GetHuddleByExternalId:", err)
		}
		return
	}
	if huddle.Status != database.HuddleStatusActive {
		return
	}

	cs.leaveHuddle(huddle, user)
}

// leaveHuddle removes the user from the huddle roster and group. When the
// roster empties the huddle ends; an empty call is a meeting nobody is in.
func (cs *ChatServer) leaveHuddle(huddle database.Huddle, user types.User) {
	if err := cs.db.MarkParticipantLeft(huddle.Id, user.Id); err != nil {
		cs.log.Println("MarkParticipantLeft:", err)
	}

	key := GroupKey{Kind: GroupHuddle, Id: huddle.ExternalId}
	if g := cs.getGroup(key); g != nil {
		g.removeUser(user.Id)
		g.broadcast(&ServerMessage{
			Notification: &Notification{
				Participant: &ParticipantChange{
					HuddleId: huddle.ExternalId,
					User:     user,
					Joined:   false,
				},
			},
		})
		cs.dropGroupIfEmpty(g)
	}

	roster, err := cs.db.GetActiveParticipants(huddle.Id)
	if err != nil {
		cs.log.Println("GetActiveParticipants:", err)
		return
	}
	if len(roster) == 0 {
		cs.endHuddle(huddle)
	}
}

// handleHuddleEnd ends a huddle for everyone. Only the creator may do this;
// other participants leave instead.
func (cs *ChatServer) handleHuddleEnd(msg *ClientMessage) {
	c := msg.client
	req := msg.Huddle
	if req == nil || req.HuddleId == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	huddle, err := cs.db.GetHuddleByExternalId(req.HuddleId)
	if err != nil {
		c.queueMessage(cs.storageError(msg.Id, err, "huddle"))
		return
	}
	if huddle.Status != database.HuddleStatusActive {
		c.queueMessage(ErrHuddleEnded(msg.Id))
		return
	}
	if huddle.CreatorId != c.user.Id {
		c.queueMessage(ErrAccessDenied(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
	cs.endHuddle(huddle)
}

// endHuddle transitions the huddle to its terminal state and tears down the
// group. The storage update only succeeds on an active row, so concurrent
// ends collapse into one.
func (cs *ChatServer) endHuddle(huddle database.Huddle) {
	if err := cs.db.EndHuddle(huddle.Id); err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			cs.log.Println("EndHuddle:", err)
		}
		return
	}

	ended := &ServerMessage{
		Notification: &Notification{
			HuddleEnded: &HuddleEnded{HuddleId: huddle.ExternalId},
		},
	}

	key := GroupKey{Kind: GroupHuddle, Id: huddle.ExternalId}
	if g := cs.getGroup(key); g != nil {
		g.broadcast(ended)
	}
	if huddle.ChannelExternalId != "" {
		if g := cs.getGroup(GroupKey{Kind: GroupChannel, Id: huddle.ChannelExternalId}); g != nil {
			g.broadcast(ended)
		}
	}

	cs.dropGroup(key)
	cs.stats.Decr(MetricActiveHuddles)
}

// handleSignal relays an opaque connection-negotiation payload to one other
// participant. The payload is never inspected and never stored.
func (cs *ChatServer) handleSignal(msg *ClientMessage) {
	c := msg.client
	sig := msg.Signal
	if sig == nil || sig.HuddleId == "" || sig.To == 0 || len(sig.Payload) == 0 {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	huddle, err := cs.db.GetHuddleByExternalId(sig.HuddleId)
	if err != nil {
		c.queueMessage(cs.storageError(msg.Id, err, "huddle"))
		return
	}
	if huddle.Status != database.HuddleStatusActive {
		c.queueMessage(ErrHuddleEnded(msg.Id))
		return
	}
	if !cs.isHuddleParticipant(huddle.Id, c.user.Id) {
		c.queueMessage(ErrAccessDenied(msg.Id))
		return
	}
	if !cs.isHuddleParticipant(huddle.Id, sig.To) {
		c.queueMessage(ErrNotFound(msg.Id, "participant"))
		return
	}

	cs.sendToUser(sig.To, &ServerMessage{
		Notification: &Notification{
			Signal: &SignalRelay{
				HuddleId: huddle.ExternalId,
				From:     c.user,
				Payload:  sig.Payload,
			},
		},
	})
}

func (cs *ChatServer) handleAudioToggle(msg *ClientMessage) {
	c := msg.client
	toggle := msg.Audio
	if toggle == nil || toggle.HuddleId == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	huddle, ok := cs.activeHuddleFor(msg, toggle.HuddleId)
	if !ok {
		return
	}

	if err := cs.db.SetParticipantAudio(huddle.Id, c.user.Id, toggle.Muted); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.queueMessage(ErrAccessDenied(msg.Id))
		} else {
			cs.log.Println("SetParticipantAudio:", err)
			c.queueMessage(ErrServiceUnavailable(msg.Id))
		}
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))

	if g := cs.getGroup(GroupKey{Kind: GroupHuddle, Id: huddle.ExternalId}); g != nil {
		g.broadcast(&ServerMessage{
			Notification: &Notification{
				Audio: &AudioChange{
					HuddleId: huddle.ExternalId,
					UserId:   c.user.Id,
					Muted:    toggle.Muted,
				},
			},
			SkipClient: c,
		})
	}
}

func (cs *ChatServer) handleVideoToggle(msg *ClientMessage) {
	c := msg.client
	toggle := msg.Video
	if toggle == nil || toggle.HuddleId == "" {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	huddle, ok := cs.activeHuddleFor(msg, toggle.HuddleId)
	if !ok {
		return
	}

	if err := cs.db.SetParticipantVideo(huddle.Id, c.user.Id, toggle.On); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.queueMessage(ErrAccessDenied(msg.Id))
		} else {
			cs.log.Println("SetParticipantVideo:", err)
			c.queueMessage(ErrServiceUnavailable(msg.Id))
		}
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))

	if g := cs.getGroup(GroupKey{Kind: GroupHuddle, Id: huddle.ExternalId}); g != nil {
		g.broadcast(&ServerMessage{
			Notification: &Notification{
				Video: &VideoChange{
					HuddleId: huddle.ExternalId,
					UserId:   c.user.Id,
					On:       toggle.On,
				},
			},
			SkipClient: c,
		})
	}
}

// activeHuddleFor fetches a huddle and replies with the appropriate error
// when it is missing or ended.
func (cs *ChatServer) activeHuddleFor(msg *ClientMessage, externalId string) (database.Huddle, bool) {
	huddle, err := cs.db.GetHuddleByExternalId(externalId)
	if err != nil {
		msg.client.queueMessage(cs.storageError(msg.Id, err, "huddle"))
		return database.Huddle{}, false
	}
	if huddle.Status != database.HuddleStatusActive {
		msg.client.queueMessage(ErrHuddleEnded(msg.Id))
		return database.Huddle{}, false
	}

	return huddle, true
}

func huddleWire(h database.Huddle) types.Huddle {
	wire := types.Huddle{
		ExternalId: h.ExternalId,
		Channel:    h.ChannelExternalId,
		CreatorId:  h.CreatorId,
		Status:     h.Status,
		StartedAt:  h.StartedAt,
	}
	if h.EndedAt.Valid {
		t := h.EndedAt.Time
		wire.EndedAt = &t
	}

	return wire
}

func rosterWire(participants []database.HuddleParticipant) []types.HuddleParticipant {
	roster := make([]types.HuddleParticipant, 0, len(participants))
	for _, p := range participants {
		roster = append(roster, types.HuddleParticipant{
			User: types.User{
				Id:          p.AccountId,
				Username:    p.Username,
				DisplayName: p.DisplayName,
			},
			JoinedAt:   p.JoinedAt,
			AudioMuted: p.AudioMuted,
			VideoOn:    p.VideoOn,
		})
	}

	return roster
}
