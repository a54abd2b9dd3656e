package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeDirect(t *testing.T, frame []byte) DirectPayload {
	t.Helper()
	var p DirectPayload
	require.NoError(t, json.Unmarshal(frame, &p))
	return p
}

func TestRouteDirect_PeerOffline(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	// Given alice has bob's conversation open and bob has no connections
	aliceWin := newFakeConn()
	env.hub.Registry().Attach(KindDirect, Key{UserID: alice.ID, PeerID: bob.ID}, aliceWin)

	// When alice says hi
	req.NoError(env.hub.RouteDirect(ctx, alice.ID, bob.ID, "hi"))

	// Then alice gets her echo
	frames := aliceWin.sent()
	req.Len(frames, 1)
	req.Equal(DirectPayload{User: "alice", Text: "hi", Time: "09:05"}, decodeDirect(t, frames[0]))

	// And exactly one unread row exists for bob
	counts, err := env.store.CountUnreadBySender(ctx, "bob")
	req.NoError(err)
	req.Equal(map[string]int{"alice": 1}, counts)

	history, err := env.store.DirectHistory(ctx, "alice", "bob")
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("hi", history[0].Text)
	req.False(history[0].Read)
}

func TestRouteDirect_PeerWindowOpen(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	carol := env.createUser(t, "carol")

	aliceWin := newFakeConn()
	bobWin := newFakeConn()
	bobWithCarol := newFakeConn()
	bobGlobal := newFakeConn()
	reg := env.hub.Registry()
	reg.Attach(KindDirect, Key{UserID: alice.ID, PeerID: bob.ID}, aliceWin)
	reg.Attach(KindDirect, Key{UserID: bob.ID, PeerID: alice.ID}, bobWin)
	reg.Attach(KindDirect, Key{UserID: bob.ID, PeerID: carol.ID}, bobWithCarol)
	reg.Attach(KindGlobal, Key{UserID: bob.ID}, bobGlobal)

	req.NoError(env.hub.RouteDirect(ctx, alice.ID, bob.ID, "lunch?"))

	want := DirectPayload{User: "alice", Text: "lunch?", Time: "09:05"}
	req.Len(bobWin.sent(), 1)
	req.Equal(want, decodeDirect(t, bobWin.sent()[0]))
	req.Len(aliceWin.sent(), 1)
	req.Equal(want, decodeDirect(t, aliceWin.sent()[0]))

	// A window onto a different conversation sees nothing
	req.Empty(bobWithCarol.sent())

	// The global channel is notified regardless of the open window
	notes := bobGlobal.framesOfType(t, TypeNotify)
	req.Len(notes, 1)
	req.Equal(alice.ID, notes[0]["from_id"])
	req.Equal("alice", notes[0]["from_name"])
	req.Equal("lunch?", notes[0]["text"])
	req.Equal("09:05", notes[0]["time"])

	counts, err := env.store.CountUnreadBySender(ctx, "bob")
	req.NoError(err)
	req.Equal(map[string]int{"alice": 1}, counts)
}

func TestRouteDirect_FailedPeerHandleIsRemoved(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	aliceWin := newFakeConn()
	bobWin := newFakeConn()
	bobWin.failWith(errors.New("broken pipe"))
	reg := env.hub.Registry()
	reg.Attach(KindDirect, Key{UserID: alice.ID, PeerID: bob.ID}, aliceWin)
	reg.Attach(KindDirect, Key{UserID: bob.ID, PeerID: alice.ID}, bobWin)

	req.NoError(env.hub.RouteDirect(ctx, alice.ID, bob.ID, "hello?"))

	_, ok := reg.Lookup(KindDirect, Key{UserID: bob.ID, PeerID: alice.ID})
	req.False(ok)
	closed, code, _ := bobWin.closeState()
	req.True(closed)
	req.Equal(CloseDeliveryFailed, code)

	// The sender still gets the echo
	req.Len(aliceWin.sent(), 1)
}

func TestRouteDirect_EchoFailureIsNotFatal(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	aliceWin := newFakeConn()
	aliceWin.failWith(errors.New("gone"))
	env.hub.Registry().Attach(KindDirect, Key{UserID: alice.ID, PeerID: bob.ID}, aliceWin)

	req.NoError(env.hub.RouteDirect(context.Background(), alice.ID, bob.ID, "hi"))
}

func TestRouteDirect_SelfConversationGetsOneFrame(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")

	notes := newFakeConn()
	env.hub.Registry().Attach(KindDirect, Key{UserID: alice.ID, PeerID: alice.ID}, notes)

	req.NoError(env.hub.RouteDirect(context.Background(), alice.ID, alice.ID, "remember milk"))
	req.Len(notes.sent(), 1)
}

func TestRouteDirect_UnknownIDsFallBackToRawID(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)

	win := newFakeConn()
	env.hub.Registry().Attach(KindDirect, Key{UserID: "ghost", PeerID: "nobody"}, win)

	req.NoError(env.hub.RouteDirect(ctx, "ghost", "nobody", "boo"))

	req.Len(win.sent(), 1)
	req.Equal("ghost", decodeDirect(t, win.sent()[0]).User)

	counts, err := env.store.CountUnreadBySender(ctx, "nobody")
	req.NoError(err)
	req.Equal(map[string]int{"ghost": 1}, counts)
}

func TestRouteRoom_FanOutSurvivesFailedMember(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	carol := env.createUser(t, "carol")
	dave := env.createUser(t, "dave")

	room, err := env.hub.CreateRoom(ctx, carol.ID, &CreateRoomRequest{Name: "team"})
	req.NoError(err)
	req.NoError(env.hub.AddMember(ctx, room.ID, carol.ID, dave.ID))

	carolConn, daveConn := newFakeConn(), newFakeConn()
	daveConn.failWith(errors.New("reset by peer"))
	reg := env.hub.Registry()
	reg.Attach(KindRoom, Key{RoomID: room.ID, UserID: carol.ID}, carolConn)
	reg.Attach(KindRoom, Key{RoomID: room.ID, UserID: dave.ID}, daveConn)

	msg, err := env.hub.RouteRoom(ctx, room.ID, carol.ID, []byte("standup in 5"))
	req.NoError(err)
	req.Equal("carol", msg.SenderName)
	req.Nil(msg.ReplyTo)

	// carol received it, dave's broken handle is gone
	req.Len(carolConn.sent(), 1)
	var got RoomMessage
	req.NoError(json.Unmarshal(carolConn.sent()[0], &got))
	req.Equal(msg.ID, got.ID)
	req.Equal("standup in 5", got.Text)
	req.Equal("09:05", got.Time)

	req.Len(reg.Room(room.ID), 1)

	// Once the last handle leaves, the room group is dropped
	reg.Detach(KindRoom, Key{RoomID: room.ID, UserID: carol.ID}, carolConn)
	req.Empty(reg.Room(room.ID))
}

func TestRouteRoom_MalformedPayloadIsStoredVerbatim(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	carol := env.createUser(t, "carol")
	room, err := env.hub.CreateRoom(ctx, carol.ID, &CreateRoomRequest{Name: "team"})
	req.NoError(err)

	_, err = env.hub.RouteRoom(ctx, room.ID, carol.ID, []byte(`{"text": oops`))
	req.NoError(err)

	history, err := env.hub.RoomHistory(ctx, room.ID, carol.ID)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(`{"text": oops`, history[0].Text)
	req.Nil(history[0].ReplyTo)
}
