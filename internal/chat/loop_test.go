package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"go-chat-hub/internal/metrics"
	"go-chat-hub/internal/ratelimit"
)

func TestRunLoop_DeliversInOrderUntilClosed(t *testing.T) {
	req := require.New(t)
	inbound := make(chan []byte, 3)
	inbound <- []byte("a")
	inbound <- []byte("b")
	inbound <- []byte("c")
	close(inbound)

	var got []string
	err := runLoop(context.Background(), inbound, 0, func(msg []byte) {
		got = append(got, string(msg))
	}, nil)

	req.NoError(err)
	req.Equal([]string{"a", "b", "c"}, got)
}

func TestRunLoop_ProbesWhenIdle(t *testing.T) {
	req := require.New(t)
	inbound := make(chan []byte)
	probes := 0
	gone := errors.New("probe failed")

	err := runLoop(context.Background(), inbound, 5*time.Millisecond, func([]byte) {}, func() error {
		probes++
		if probes == 3 {
			return gone
		}
		return nil
	})

	req.ErrorIs(err, gone)
	req.Equal(3, probes)
}

func TestRunLoop_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runLoop(ctx, make(chan []byte), time.Hour, func([]byte) {}, func() error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestServeGlobal_PresenceFollowsConnection(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")

	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.hub.ServeGlobal(alice.ID, conn)
	}()

	req.Eventually(func() bool {
		u, err := env.users.GetUserByID(ctx, alice.ID)
		return err == nil && u.Online
	}, time.Second, 5*time.Millisecond)

	// When the client goes away
	conn.Close(1000, "")
	<-done

	// Then cleanup has run and the stored flag is back to offline
	req.False(env.hub.Online(alice.ID))
	u, err := env.users.GetUserByID(ctx, alice.ID)
	req.NoError(err)
	req.False(u.Online)
}

func TestServeGlobal_FailedProbeMeansOffline(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t, func(o *Options) { o.IdleTimeout = 10 * time.Millisecond })
	alice := env.createUser(t, "alice")

	conn := newFakeConn()
	conn.failWith(errors.New("write: broken pipe"))

	// The loop ends on its own once the first probe fails
	req.NoError(env.hub.ServeGlobal(alice.ID, conn))

	req.False(env.hub.Online(alice.ID))
	u, err := env.users.GetUserByID(ctx, alice.ID)
	req.NoError(err)
	req.False(u.Online)
}

func TestServeGlobal_IdleProbeIsPing(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t, func(o *Options) { o.IdleTimeout = 10 * time.Millisecond })
	alice := env.createUser(t, "alice")

	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.hub.ServeGlobal(alice.ID, conn)
	}()

	req.Eventually(func() bool {
		return len(conn.framesOfType(t, TypePing)) > 0
	}, time.Second, 5*time.Millisecond)

	conn.Close(1000, "")
	<-done
}

func TestServeGlobal_CountsPongs(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	before := testutil.ToFloat64(metrics.PongsReceived)

	conn := newFakeConn()
	conn.inbound <- []byte(`{"type":"pong"}`)
	conn.inbound <- []byte("not json")
	conn.Close(1000, "")

	req.NoError(env.hub.ServeGlobal(alice.ID, conn))
	req.Equal(before+1, testutil.ToFloat64(metrics.PongsReceived))
}

func TestServeGlobal_NewConnectionSupersedesOld(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")

	first, second := newFakeConn(), newFakeConn()
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		env.hub.ServeGlobal(alice.ID, first)
	}()
	req.Eventually(func() bool { return env.hub.Online(alice.ID) }, time.Second, 5*time.Millisecond)

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		env.hub.ServeGlobal(alice.ID, second)
	}()

	// The first connection is closed and its loop finishes
	<-firstDone
	_, code, _ := first.closeState()
	req.Equal(CloseSuperseded, code)

	// alice stays online through the replacement
	req.True(env.hub.Online(alice.ID))
	req.Equal(1, env.hub.Registry().Count(KindGlobal))
	u, err := env.users.GetUserByID(ctx, alice.ID)
	req.NoError(err)
	req.True(u.Online)

	second.Close(1000, "")
	<-secondDone
}

func TestServeDirect_RoutesInboundFrames(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.hub.ServeDirect(alice.ID, bob.ID, conn)
	}()

	conn.inbound <- []byte("hi bob")
	req.Eventually(func() bool { return len(conn.sent()) == 1 }, time.Second, 5*time.Millisecond)
	req.Equal(DirectPayload{User: "alice", Text: "hi bob", Time: "09:05"}, decodeDirect(t, conn.sent()[0]))

	conn.Close(1000, "")
	<-done
	_, ok := env.hub.Registry().Lookup(KindDirect, Key{UserID: alice.ID, PeerID: bob.ID})
	req.False(ok)
}

func TestServeDirect_RateLimitedMessagesAreDropped(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t, func(o *Options) { o.Limiter = ratelimit.NewMemoryLimiter(1, time.Hour) })
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	conn := newFakeConn()
	conn.inbound <- []byte("first")
	conn.inbound <- []byte("second")
	conn.inbound <- []byte("third")
	conn.Close(1000, "")

	// Buffered frames are still drained after close
	req.NoError(env.hub.ServeDirect(alice.ID, bob.ID, conn))

	counts, err := env.store.CountUnreadBySender(ctx, "bob")
	req.NoError(err)
	req.Equal(map[string]int{"alice": 1}, counts)
}

func TestServeDirect_LastConnectionReleasesLimiter(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	limiter := ratelimit.NewMemoryLimiter(1, time.Hour)
	env := newTestEnv(t, func(o *Options) { o.Limiter = limiter })
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	// While alice still holds a room handle her bucket survives
	room := newFakeConn()
	env.hub.Registry().Attach(KindRoom, Key{RoomID: "r-1", UserID: alice.ID}, room)

	conn := newFakeConn()
	conn.inbound <- []byte("first")
	conn.Close(1000, "")
	req.NoError(env.hub.ServeDirect(alice.ID, bob.ID, conn))

	ok, err := limiter.Allow(ctx, alice.ID)
	req.NoError(err)
	req.False(ok)

	// Once her last handle goes, the next connection starts fresh
	env.hub.Registry().Detach(KindRoom, Key{RoomID: "r-1", UserID: alice.ID}, room)
	conn = newFakeConn()
	conn.Close(1000, "")
	req.NoError(env.hub.ServeDirect(alice.ID, bob.ID, conn))

	ok, err = limiter.Allow(ctx, alice.ID)
	req.NoError(err)
	req.True(ok)
}

func TestServeRoom_NonMemberIsClosedWithPolicyViolation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	carol := env.createUser(t, "carol")
	mallory := env.createUser(t, "mallory")
	room, err := env.hub.CreateRoom(ctx, carol.ID, &CreateRoomRequest{Name: "team"})
	req.NoError(err)

	conn := newFakeConn()
	err = env.hub.ServeRoom(room.ID, mallory.ID, conn)

	req.ErrorIs(err, ErrNotRoomMember)
	closed, code, reason := conn.closeState()
	req.True(closed)
	req.Equal(CloseNotMember, code)
	req.Equal("not a room member", reason)
	req.Empty(env.hub.Registry().Room(room.ID))
}

// revokingStore reports membership once, then reports it gone, like a
// RemoveMember landing while the connection attaches.
type revokingStore struct {
	*Repository
	checks int
}

func (s *revokingStore) IsRoomMember(ctx context.Context, roomID, userID string) (bool, error) {
	s.checks++
	if s.checks > 1 {
		return false, nil
	}
	return s.Repository.IsRoomMember(ctx, roomID, userID)
}

func TestServeRoom_MembershipLostWhileAttaching(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	carol := env.createUser(t, "carol")
	room, err := env.hub.CreateRoom(ctx, carol.ID, &CreateRoomRequest{Name: "team"})
	req.NoError(err)

	store := &revokingStore{Repository: env.store}
	hub := NewHub(env.users, store, zerolog.Nop(), Options{Now: func() time.Time { return fixedNow }})

	conn := newFakeConn()
	err = hub.ServeRoom(room.ID, carol.ID, conn)

	req.ErrorIs(err, ErrNotRoomMember)
	req.Equal(2, store.checks)
	_, code, _ := conn.closeState()
	req.Equal(CloseNotMember, code)
	req.Empty(hub.Registry().Room(room.ID))
}

func TestServeRoom_MemberMessagesFanOut(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t)
	carol := env.createUser(t, "carol")
	dave := env.createUser(t, "dave")
	room, err := env.hub.CreateRoom(ctx, carol.ID, &CreateRoomRequest{Name: "team"})
	req.NoError(err)
	req.NoError(env.hub.AddMember(ctx, room.ID, carol.ID, dave.ID))

	carolConn, daveConn := newFakeConn(), newFakeConn()
	carolDone, daveDone := make(chan struct{}), make(chan struct{})
	go func() { defer close(carolDone); env.hub.ServeRoom(room.ID, carol.ID, carolConn) }()
	go func() { defer close(daveDone); env.hub.ServeRoom(room.ID, dave.ID, daveConn) }()
	req.Eventually(func() bool { return len(env.hub.Registry().Room(room.ID)) == 2 }, time.Second, 5*time.Millisecond)

	daveConn.inbound <- []byte("morning")
	req.Eventually(func() bool {
		return len(carolConn.sent()) == 1 && len(daveConn.sent()) == 1
	}, time.Second, 5*time.Millisecond)

	carolConn.Close(1000, "")
	daveConn.Close(1000, "")
	<-carolDone
	<-daveDone
	req.Empty(env.hub.Registry().Room(room.ID))
}

func TestShutdown_ClosesConnectionsAndRefusesNewOnes(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	conn := newFakeConn()
	go env.hub.ServeDirect(alice.ID, bob.ID, conn)
	req.Eventually(func() bool { return env.hub.Registry().Count(KindDirect) == 1 }, time.Second, 5*time.Millisecond)

	req.NoError(env.hub.Shutdown(time.Second))
	_, code, _ := conn.closeState()
	req.Equal(CloseGoingAway, code)

	late := newFakeConn()
	req.Error(env.hub.ServeGlobal(alice.ID, late))
	_, code, _ = late.closeState()
	req.Equal(CloseGoingAway, code)
}
