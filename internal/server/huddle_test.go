package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openclack/clack/internal/database"
	"github.com/openclack/clack/internal/types"
)

func TestHandleHuddleCreate_ChannelHuddle(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestServer(t, db)

	alice := newTestClient(t, cs, types.User{Id: 1, Username: "alice"})
	bob := newTestClient(t, cs, types.User{Id: 2, Username: "bob"})

	channelGroup := cs.groupFor(GroupKey{Kind: GroupChannel, Id: "general"})
	channelGroup.addClient(alice)
	channelGroup.addClient(bob)

	db.On("GetChannelByExternalId", "general").Return(database.Channel{Id: 10, ExternalId: "general"}, nil)
	db.On("IsChannelMember", 10, 1).Return(true)
	db.On("CreateHuddle", mock.AnythingOfType("string"), 10, 1).
		Return(database.Huddle{Id: 5, ExternalId: "hud1", CreatorId: 1, Status: database.HuddleStatusActive}, nil)
	db.On("UpsertHuddleParticipant", 5, 1).
		Return(database.HuddleParticipant{Id: 1, HuddleId: 5, AccountId: 1}, nil)

	cs.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Type:        TypeHuddleCreate,
		Huddle:      &HuddleRequest{Channel: "general"},
		client:      alice,
	})

	assertResponseCode(t, alice, 200)
	assert.NotNil(t, alice.getGroup("huddle/hud1"), "creator attached to huddle group")

	got := recvMessage(t, bob)
	require.NotNil(t, got.Notification)
	require.NotNil(t, got.Notification.HuddleStarted)
	assert.Equal(t, "hud1", got.Notification.HuddleStarted.Huddle.ExternalId)
	assert.Equal(t, "general", got.Notification.HuddleStarted.Huddle.Channel)

	db.AssertExpectations(t)
}

func TestHandleHuddleJoin_EndedHuddleStaysEnded(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestServer(t, db)
	c := newTestClient(t, cs, types.User{Id: 2, Username: "bob"})

	db.On("GetHuddleByExternalId", "hud1").Return(database.Huddle{
		Id: 5, ExternalId: "hud1", CreatorId: 1, Status: database.HuddleStatusEnded,
	}, nil)

	cs.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Type:        TypeHuddleJoin,
		Huddle:      &HuddleRequest{HuddleId: "hud1"},
		client:      c,
	})

	assertResponseCode(t, c, 410)
	db.AssertNotCalled(t, "UpsertHuddleParticipant")
}

func TestHandleHuddleJoin_UnknownHuddle(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestServer(t, db)
	c := newTestClient(t, cs, types.User{Id: 2, Username: "bob"})

	db.On("GetHuddleByExternalId", "nope").Return(database.Huddle{}, database.ErrNotFound)

	cs.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Type:        TypeHuddleJoin,
		Huddle:      &HuddleRequest{HuddleId: "nope"},
		client:      c,
	})

	assertResponseCode(t, c, 404)
}

func TestHandleHuddleJoin_AnnouncesParticipant(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestServer(t, db)

	alice := newTestClient(t, cs, types.User{Id: 1, Username: "alice"})
	bob := newTestClient(t, cs, types.User{Id: 2, Username: "bob"})

	huddleGroup := cs.groupFor(GroupKey{Kind: GroupHuddle, Id: "hud1"})
	huddleGroup.addClient(alice)

	huddle := database.Huddle{Id: 5, ExternalId: "hud1", CreatorId: 1, Status: database.HuddleStatusActive}

	db.On("GetHuddleByExternalId", "hud1").Return(huddle, nil)
	db.On("UpsertHuddleParticipant", 5, 2).
		Return(database.HuddleParticipant{Id: 2, HuddleId: 5, AccountId: 2, Username: "bob"}, nil)
	db.On("GetActiveParticipants", 5).Return([]database.HuddleParticipant{
		{Id: 1, HuddleId: 5, AccountId: 1, Username: "alice"},
		{Id: 2, HuddleId: 5, AccountId: 2, Username: "bob"},
	}, nil)

	cs.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Type:        TypeHuddleJoin,
		Huddle:      &HuddleRequest{HuddleId: "hud1"},
		client:      bob,
	})

	assertResponseCode(t, bob, 200)

	got := recvMessage(t, alice)
	require.NotNil(t, got.Notification)
	require.NotNil(t, got.Notification.Participant)
	assert.True(t, got.Notification.Participant.Joined)
	assert.Equal(t, "bob", got.Notification.Participant.User.Username)

	db.AssertExpectations(t)
}

func TestHandleHuddleJoin_LosesRaceAgainstEnd(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestServer(t, db)

	alice := newTestClient(t, cs, types.User{Id: 1, Username: "alice"})
	bob := newTestClient(t, cs, types.User{Id: 2, Username: "bob"})
	cs.groupFor(GroupKey{Kind: GroupHuddle, Id: "hud1"}).addClient(alice)

	// still active at the read, ended by the time the insert runs; the
	// status-guarded insert touches no rows
	db.On("GetHuddleByExternalId", "hud1").Return(database.Huddle{
		Id: 5, ExternalId: "hud1", CreatorId: 1, Status: database.HuddleStatusActive,
	}, nil)
	db.On("UpsertHuddleParticipant", 5, 2).
		Return(database.HuddleParticipant{}, database.ErrNotFound)

	cs.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Type:        TypeHuddleJoin,
		Huddle:      &HuddleRequest{HuddleId: "hud1"},
		client:      bob,
	})

	assertResponseCode(t, bob, 410)
	assertNoMessage(t, alice)
	assert.Nil(t, bob.getGroup("huddle/hud1"), "loser must not stay attached to the huddle group")
	db.AssertNotCalled(t, "GetActiveParticipants", 5)
	db.AssertExpectations(t)
}

func TestHandleHuddleEnd_CreatorOnly(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestServer(t, db)
	c := newTestClient(t, cs, types.User{Id: 2, Username: "bob"})

	db.On("GetHuddleByExternalId", "hud1").Return(database.Huddle{
		Id: 5, ExternalId: "hud1", CreatorId: 1, Status: database.HuddleStatusActive,
	}, nil)

	cs.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Type:        TypeHuddleEnd,
		Huddle:      &HuddleRequest{HuddleId: "hud1"},
		client:      c,
	})

	assertResponseCode(t, c, 403)
	db.AssertNotCalled(t, "EndHuddle")
}

func TestHandleHuddleEnd_NotifiesParticipants(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestServer(t, db)

	alice := newTestClient(t, cs, types.User{Id: 1, Username: "alice"})
	bob := newTestClient(t, cs, types.User{Id: 2, Username: "bob"})

	key := GroupKey{Kind: GroupHuddle, Id: "hud1"}
	g := cs.groupFor(key)
	g.addClient(alice)
	g.addClient(bob)

	db.On("GetHuddleByExternalId", "hud1").Return(database.Huddle{
		Id: 5, ExternalId: "hud1", CreatorId: 1, Status: database.HuddleStatusActive,
	}, nil)
	db.On("EndHuddle", 5).Return(nil)

	cs.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Type:        TypeHuddleEnd,
		Huddle:      &HuddleRequest{HuddleId: "hud1"},
		client:      alice,
	})

	got := recvMessage(t, bob)
	require.NotNil(t, got.Notification)
	require.NotNil(t, got.Notification.HuddleEnded)
	assert.Equal(t, "hud1", got.Notification.HuddleEnded.HuddleId)

	assertResponseCode(t, alice, 200)
	assert.Nil(t, cs.getGroup(key), "huddle group torn down")

	db.AssertExpectations(t)
}

func TestHandleHuddleLeave_LastParticipantEndsHuddle(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestServer(t, db)

	alice := newTestClient(t, cs, types.User{Id: 1, Username: "alice"})
	key := GroupKey{Kind: GroupHuddle, Id: "hud1"}
	cs.groupFor(key).addClient(alice)

	db.On("GetHuddleByExternalId", "hud1").Return(database.Huddle{
		Id: 5, ExternalId: "hud1", CreatorId: 1, Status: database.HuddleStatusActive,
	}, nil)
	db.On("MarkParticipantLeft", 5, 1).Return(nil)
	db.On("GetActiveParticipants", 5).Return([]database.HuddleParticipant{}, nil)
	db.On("EndHuddle", 5).Return(nil)

	cs.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Type:        TypeHuddleLeave,
		Huddle:      &HuddleRequest{HuddleId: "hud1"},
		client:      alice,
	})

	assertResponseCode(t, alice, 200)
	db.AssertExpectations(t)
}

func TestDisconnectTriggersImplicitLeave(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestServer(t, db)

	alice := newTestClient(t, cs, types.User{Id: 1, Username: "alice"})
	bob := newTestClient(t, cs, types.User{Id: 2, Username: "bob"})
	cs.RegisterClient(alice)
	cs.RegisterClient(bob)

	key := GroupKey{Kind: GroupHuddle, Id: "hud1"}
	g := cs.groupFor(key)
	g.addClient(alice)
	g.addClient(bob)
	drainMessages(alice)
	drainMessages(bob)

	db.On("GetHuddleByExternalId", "hud1").Return(database.Huddle{
		Id: 5, ExternalId: "hud1", CreatorId: 1, Status: database.HuddleStatusActive,
	}, nil)
	db.On("MarkParticipantLeft", 5, 1).Return(nil)
	db.On("GetActiveParticipants", 5).Return([]database.HuddleParticipant{
		{Id: 2, HuddleId: 5, AccountId: 2, Username: "bob"},
	}, nil)

	cs.DeregisterClient(alice)

	got := recvMessage(t, bob)
	require.NotNil(t, got.Notification)
	require.NotNil(t, got.Notification.Participant)
	assert.False(t, got.Notification.Participant.Joined)
	assert.Equal(t, 1, got.Notification.Participant.User.Id)

	db.AssertNotCalled(t, "EndHuddle")
	db.AssertExpectations(t)
}

func TestHandleSignal_RelaysToTargetOnly(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestServer(t, db)

	alice := newTestClient(t, cs, types.User{Id: 1, Username: "alice"})
	bob := newTestClient(t, cs, types.User{Id: 2, Username: "bob"})
	carol := newTestClient(t, cs, types.User{Id: 3, Username: "carol"})
	cs.RegisterClient(alice)
	cs.RegisterClient(bob)
	cs.RegisterClient(carol)
	drainMessages(alice)
	drainMessages(bob)
	drainMessages(carol)

	db.On("GetHuddleByExternalId", "hud1").Return(database.Huddle{
		Id: 5, ExternalId: "hud1", CreatorId: 1, Status: database.HuddleStatusActive,
	}, nil)
	db.On("GetActiveParticipants", 5).Return([]database.HuddleParticipant{
		{Id: 1, HuddleId: 5, AccountId: 1},
		{Id: 2, HuddleId: 5, AccountId: 2},
		{Id: 3, HuddleId: 5, AccountId: 3},
	}, nil)

	payload := json.RawMessage(`{"sdp":"offer"}`)
	cs.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Type:        TypeHuddleSignal,
		Signal:      &Signal{HuddleId: "hud1", To: 2, Payload: payload},
		client:      alice,
	})

	got := recvMessage(t, bob)
	require.NotNil(t, got.Notification)
	require.NotNil(t, got.Notification.Signal)
	assert.Equal(t, "alice", got.Notification.Signal.From.Username)
	assert.JSONEq(t, string(payload), string(got.Notification.Signal.Payload))

	assertNoMessage(t, carol)
	assertNoMessage(t, alice)
}

func TestHandleSignal_NonParticipantDenied(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestServer(t, db)
	c := newTestClient(t, cs, types.User{Id: 3, Username: "carol"})

	db.On("GetHuddleByExternalId", "hud1").Return(database.Huddle{
		Id: 5, ExternalId: "hud1", CreatorId: 1, Status: database.HuddleStatusActive,
	}, nil)
	db.On("GetActiveParticipants", 5).Return([]database.HuddleParticipant{
		{Id: 1, HuddleId: 5, AccountId: 1},
		{Id: 2, HuddleId: 5, AccountId: 2},
	}, nil)

	cs.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Type:        TypeHuddleSignal,
		Signal:      &Signal{HuddleId: "hud1", To: 2, Payload: json.RawMessage(`{}`)},
		client:      c,
	})

	assertResponseCode(t, c, 403)
}

func TestHandleAudioToggle(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestServer(t, db)

	alice := newTestClient(t, cs, types.User{Id: 1, Username: "alice"})
	bob := newTestClient(t, cs, types.User{Id: 2, Username: "bob"})

	key := GroupKey{Kind: GroupHuddle, Id: "hud1"}
	g := cs.groupFor(key)
	g.addClient(alice)
	g.addClient(bob)

	db.On("GetHuddleByExternalId", "hud1").Return(database.Huddle{
		Id: 5, ExternalId: "hud1", CreatorId: 1, Status: database.HuddleStatusActive,
	}, nil)
	db.On("SetParticipantAudio", 5, 1, true).Return(nil)

	cs.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Type:        TypeAudioToggle,
		Audio:       &AudioToggle{HuddleId: "hud1", Muted: true},
		client:      alice,
	})

	assertResponseCode(t, alice, 200)

	got := recvMessage(t, bob)
	require.NotNil(t, got.Notification)
	require.NotNil(t, got.Notification.Audio)
	assert.True(t, got.Notification.Audio.Muted)
	assert.Equal(t, 1, got.Notification.Audio.UserId)

	db.AssertExpectations(t)
}

func TestHandleVideoToggle_NonParticipant(t *testing.T) {
	db := &database.MockChatRepository{}
	cs := newTestServer(t, db)
	c := newTestClient(t, cs, types.User{Id: 3, Username: "carol"})

	db.On("GetHuddleByExternalId", "hud1").Return(database.Huddle{
		Id: 5, ExternalId: "hud1", CreatorId: 1, Status: database.HuddleStatusActive,
	}, nil)
	db.On("SetParticipantVideo", 5, 3, true).Return(database.ErrNotFound)

	cs.dispatch(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Type:        TypeVideoToggle,
		Video:       &VideoToggle{HuddleId: "hud1", On: true},
		client:      c,
	})

	assertResponseCode(t, c, 403)
}
