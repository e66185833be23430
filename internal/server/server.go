package server

import (
	"errors"
	"log"
	"sync"

	"github.com/teris-io/shortid"

	"github.com/openclack/clack/internal/database"
	"github.com/openclack/clack/internal/ephemeral"
	"github.com/openclack/clack/internal/stats"
)

// Stats metrics maintained by the chat server.
const (
	MetricActiveConnections = "ActiveConnections"
	MetricActiveGroups      = "ActiveGroups"
	MetricMessagesSent      = "MessagesSent"
	MetricActiveHuddles     = "ActiveHuddles"
)

type handlerFunc func(*ClientMessage)

type ChatServer struct {
	log         *log.Logger
	db          database.ChatRepository
	eph         ephemeral.Store
	stats       stats.StatsProvider
	clients     map[*Client]struct{}
	userClients map[int]map[*Client]struct{}
	clientsLock sync.RWMutex
	groups      map[string]*Group
	groupsLock  sync.RWMutex
	presence    *PresenceTracker
	handlers    map[string]handlerFunc
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, eph ephemeral.Store, sp stats.StatsProvider) (*ChatServer, error) {
	cs := &ChatServer{
		log:         logger,
		db:          db,
		eph:         eph,
		stats:       sp,
		clients:     make(map[*Client]struct{}),
		userClients: make(map[int]map[*Client]struct{}),
		groups:      make(map[string]*Group),
	}
	cs.presence = newPresenceTracker(cs)

	cs.handlers = map[string]handlerFunc{
		TypeJoin:           cs.handleJoin,
		TypeLeave:          cs.handleLeave,
		TypeMessageSend:    cs.handlePublish,
		TypeMessageEdit:    cs.handleEdit,
		TypeMessageDelete:  cs.handleDelete,
		TypeReactionToggle: cs.handleReactionToggle,
		TypeTypingStart:    cs.handleTypingStart,
		TypeTypingStop:     cs.handleTypingStop,
		TypeStatusSet:      cs.handleStatusSet,
		TypeHuddleCreate:   cs.handleHuddleCreate,
		TypeHuddleJoin:     cs.handleHuddleJoin,
		TypeHuddleLeave:    cs.handleHuddleLeave,
		TypeHuddleEnd:      cs.handleHuddleEnd,
		TypeHuddleSignal:   cs.handleSignal,
		TypeAudioToggle:    cs.handleAudioToggle,
		TypeVideoToggle:    cs.handleVideoToggle,
	}

	for _, name := range []string{
		MetricActiveConnections,
		MetricActiveGroups,
		MetricMessagesSent,
		MetricActiveHuddles,
	} {
		sp.RegisterMetric(name)
	}

	return cs, nil
}

func (cs *ChatServer) Presence() *PresenceTracker {
	return cs.presence
}

// dispatch routes one inbound event to its handler. A panic while handling
// an event is caught and converted into an error response for the
// originating connection only.
func (cs *ChatServer) dispatch(msg *ClientMessage) {
	defer func() {
		if r := recover(); r != nil {
			cs.log.Printf("panic handling %q from user %d: %v", msg.Type, msg.GetUserId(), r)
			msg.client.queueMessage(ErrInternalError(msg.Id))
		}
	}()

	handler, ok := cs.handlers[msg.Type]
	if !ok {
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	handler(msg)
}

// RegisterClient attaches an authenticated connection. The connection is
// indexed under its identity, forming the user's personal notification
// group, and the user is marked online.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.clientsLock.Lock()
	cs.clients[c] = struct{}{}
	if cs.userClients[c.user.Id] == nil {
		cs.userClients[c.user.Id] = make(map[*Client]struct{})
	}
	cs.userClients[c.user.Id][c] = struct{}{}
	cs.clientsLock.Unlock()

	cs.stats.Incr(MetricActiveConnections)
	cs.log.Printf("connection from %q registered", c.user.Username)

	cs.presence.ClientOnline(c.user)
}

// DeregisterClient tears down a connection on any kind of disconnect: group
// membership, implicit huddle leave and, when this was the identity's last
// connection, presence.
func (cs *ChatServer) DeregisterClient(c *Client) {
	cs.clientsLock.Lock()
	delete(cs.clients, c)
	if userClients, ok := cs.userClients[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(cs.userClients, c.user.Id)
		}
	}
	cs.clientsLock.Unlock()

	cs.stats.Decr(MetricActiveConnections)
	cs.log.Printf("connection from %q removed", c.user.Username)

	for _, g := range c.groupList() {
		g.removeClient(c)

		if g.key.Kind == GroupHuddle && !g.hasUser(c.user.Id) {
			// last connection of this user in the huddle dropped
			cs.leaveHuddleOnDisconnect(g.key.Id, c.user)
		}

		cs.dropGroupIfEmpty(g)
	}

	if !cs.hasConnections(c.user.Id) {
		cs.presence.ClientGone(c.user)
	}
}

func (cs *ChatServer) hasConnections(userId int) bool {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	return len(cs.userClients[userId]) > 0
}

func (cs *ChatServer) clientsForUser(userId int) []*Client {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	clients := make([]*Client, 0, len(cs.userClients[userId]))
	for c := range cs.userClients[userId] {
		clients = append(clients, c)
	}
	return clients
}

// sendToUser delivers a message to every live connection of the user, i.e.
// to the user's personal group.
func (cs *ChatServer) sendToUser(userId int, msg *ServerMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}

	for _, c := range cs.clientsForUser(userId) {
		c.queueMessage(msg)
	}
}

func (cs *ChatServer) getGroup(key GroupKey) *Group {
	cs.groupsLock.RLock()
	defer cs.groupsLock.RUnlock()

	return cs.groups[key.String()]
}

func (cs *ChatServer) groupFor(key GroupKey) *Group {
	cs.groupsLock.Lock()
	defer cs.groupsLock.Unlock()

	if g, ok := cs.groups[key.String()]; ok {
		return g
	}

	g := newGroup(key, cs.log)
	cs.groups[key.String()] = g
	cs.stats.Incr(MetricActiveGroups)

	return g
}

func (cs *ChatServer) dropGroupIfEmpty(g *Group) {
	if !g.empty() {
		return
	}

	cs.groupsLock.Lock()
	defer cs.groupsLock.Unlock()

	if cur, ok := cs.groups[g.key.String()]; ok && cur == g && g.empty() {
		delete(cs.groups, g.key.String())
		cs.stats.Decr(MetricActiveGroups)
	}
}

func (cs *ChatServer) dropGroup(key GroupKey) {
	cs.groupsLock.Lock()
	defer cs.groupsLock.Unlock()

	if g, ok := cs.groups[key.String()]; ok {
		for _, c := range g.members() {
			g.removeClient(c)
		}
		delete(cs.groups, key.String())
		cs.stats.Decr(MetricActiveGroups)
	}
}

// handleJoin re-validates membership against storage on every call; a prior
// join is never trusted. Failures are reported privately to the requester.
func (cs *ChatServer) handleJoin(msg *ClientMessage) {
	c := msg.client
	if msg.Join == nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	key, err := ParseGroupKey(msg.Join.Group)
	if err != nil {
		c.queueMessage(ErrValidation(msg.Id, err.Error()))
		return
	}

	switch key.Kind {
	case GroupChannel:
		channel, err := cs.db.GetChannelByExternalId(key.Id)
		if err != nil {
			c.queueMessage(cs.storageError(msg.Id, err, "channel"))
			return
		}
		if !cs.db.IsChannelMember(channel.Id, c.user.Id) {
			c.queueMessage(ErrAccessDenied(msg.Id))
			return
		}
	case GroupConversation:
		conv, err := cs.db.GetConversationByExternalId(key.Id)
		if err != nil {
			c.queueMessage(cs.storageError(msg.Id, err, "conversation"))
			return
		}
		if conv.LowUserId != c.user.Id && conv.HighUserId != c.user.Id {
			c.queueMessage(ErrAccessDenied(msg.Id))
			return
		}
	case GroupHuddle:
		huddle, err := cs.db.GetHuddleByExternalId(key.Id)
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
	}

	cs.groupFor(key).addClient(c)
	c.queueMessage(NoErrOK(msg.Id, map[string]any{"group": key.String()}))
}

func (cs *ChatServer) handleLeave(msg *ClientMessage) {
	c := msg.client
	if msg.Leave == nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	key, err := ParseGroupKey(msg.Leave.Group)
	if err != nil {
		c.queueMessage(ErrValidation(msg.Id, err.Error()))
		return
	}

	if g := cs.getGroup(key); g != nil {
		g.removeClient(c)
		cs.dropGroupIfEmpty(g)
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
}

// deliver broadcasts to the group and, additionally, to the personal groups
// of extraUsers. A DM must reach its recipient's connections even before the
// recipient has joined the conversation group, and a sender's other devices
// should see their own traffic; both arrive through extraUsers. Each
// connection receives the message at most once.
func (cs *ChatServer) deliver(key GroupKey, extraUsers []int, msg *ServerMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}

	seen := make(map[*Client]struct{})
	if g := cs.getGroup(key); g != nil {
		for _, c := range g.members() {
			seen[c] = struct{}{}
		}
	}
	for _, userId := range extraUsers {
		for _, c := range cs.clientsForUser(userId) {
			seen[c] = struct{}{}
		}
	}

	for c := range seen {
		if c == msg.SkipClient {
			continue
		}
		c.queueMessage(msg)
	}
}

// contactsOf returns every connection that shares at least one group with
// the user, plus the user's own connections, deduplicated. Used to scope
// presence fan-out.
func (cs *ChatServer) contactsOf(userId int) []*Client {
	seen := make(map[*Client]struct{})

	cs.groupsLock.RLock()
	for _, g := range cs.groups {
		if !g.hasUser(userId) {
			continue
		}
		for _, c := range g.members() {
			seen[c] = struct{}{}
		}
	}
	cs.groupsLock.RUnlock()

	for _, c := range cs.clientsForUser(userId) {
		seen[c] = struct{}{}
	}

	contacts := make([]*Client, 0, len(seen))
	for c := range seen {
		contacts = append(contacts, c)
	}
	return contacts
}

func (cs *ChatServer) isHuddleParticipant(huddleId, userId int) bool {
	participants, err := cs.db.GetActiveParticipants(huddleId)
	if err != nil {
		cs.log.Println("GetActiveParticipants:", err)
		return false
	}

	for _, p := range participants {
		if p.AccountId == userId {
			return true
		}
	}
	return false
}

// storageError maps repository errors to a private response for the caller.
// A duplicate surfacing here was not resolvable by the handler, so it is
// reported as a conflict rather than swallowed.
func (cs *ChatServer) storageError(id int, err error, what string) *ServerMessage {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return ErrNotFound(id, what)
	case errors.Is(err, database.ErrDuplicate):
		return ErrConflict(id)
	}

	cs.log.Printf("storage error (%s): %v", what, err)
	return ErrServiceUnavailable(id)
}

func (cs *ChatServer) generateShortId() (string, error) {
	return shortid.Generate()
}

// Shutdown closes every live connection.
func (cs *ChatServer) Shutdown() {
	cs.log.Println("shutting down chat server")

	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	for c := range cs.clients {
		c.stopClient()
	}
}
