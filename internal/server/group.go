package server

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// GroupKind tags the namespace of a broadcast group so channel, conversation
// and huddle ids can never collide.
type GroupKind string

const (
	GroupChannel      GroupKind = "channel"
	GroupConversation GroupKind = "dm"
	GroupHuddle       GroupKind = "huddle"
)

type GroupKey struct {
	Kind GroupKind
	Id   string
}

func (k GroupKey) String() string {
	return string(k.Kind) + "/" + k.Id
}

func ParseGroupKey(s string) (GroupKey, error) {
	kind, id, ok := strings.Cut(s, "/")
	if !ok || id == "" {
		return GroupKey{}, fmt.Errorf("malformed group key %q", s)
	}

	switch GroupKind(kind) {
	case GroupChannel, GroupConversation, GroupHuddle:
		return GroupKey{Kind: GroupKind(kind), Id: id}, nil
	default:
		return GroupKey{}, fmt.Errorf("unknown group kind %q", kind)
	}
}

// Group is a broadcast scope. Membership here is only the set of live
// connections currently joined; the authoritative membership lives in
// storage and is re-checked on every join.
type Group struct {
	key        GroupKey
	clients    map[*Client]struct{}
	userMap    map[int]map[*Client]struct{}
	clientLock sync.RWMutex
	log        *log.Logger
}

func newGroup(key GroupKey, logger *log.Logger) *Group {
	return &Group{
		key:     key,
		clients: make(map[*Client]struct{}),
		userMap: make(map[int]map[*Client]struct{}),
		log:     logger,
	}
}

func (g *Group) Key() GroupKey {
	return g.key
}

func (g *Group) addClient(c *Client) {
	g.clientLock.Lock()
	defer g.clientLock.Unlock()

	g.clients[c] = struct{}{}
	if g.userMap[c.user.Id] == nil {
		g.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	g.userMap[c.user.Id][c] = struct{}{}

	c.addGroup(g)
}

// removeClient detaches the connection from the group. Removing a client
// that never joined is a no-op, which makes leave idempotent.
func (g *Group) removeClient(c *Client) {
	g.clientLock.Lock()
	defer g.clientLock.Unlock()

	if _, ok := g.clients[c]; !ok {
		return
	}

	delete(g.clients, c)
	c.delGroup(g.key.String())

	if userClients, ok := g.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(g.userMap, c.user.Id)
		}
	}
}

// removeUser detaches every connection of the user from the group.
func (g *Group) removeUser(userId int) {
	g.clientLock.Lock()
	defer g.clientLock.Unlock()

	if userClients, ok := g.userMap[userId]; ok {
		for client := range userClients {
			delete(g.clients, client)
			client.delGroup(g.key.String())
		}
		delete(g.userMap, userId)
	}
}

func (g *Group) hasUser(userId int) bool {
	g.clientLock.RLock()
	defer g.clientLock.RUnlock()

	return g.userMap[userId] != nil
}

func (g *Group) empty() bool {
	g.clientLock.RLock()
	defer g.clientLock.RUnlock()

	return len(g.clients) == 0
}

func (g *Group) members() []*Client {
	g.clientLock.RLock()
	defer g.clientLock.RUnlock()

	members := make([]*Client, 0, len(g.clients))
	for client := range g.clients {
		members = append(members, client)
	}
	return members
}

// broadcast delivers the message to every connection currently in the group,
// except msg.SkipClient when set. Connections joining after the call do not
// receive it.
func (g *Group) broadcast(msg *ServerMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}

	g.clientLock.RLock()
	defer g.clientLock.RUnlock()

	for client := range g.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
