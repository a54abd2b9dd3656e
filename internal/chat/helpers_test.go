package chat

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"go-chat-hub/internal/db"
	"go-chat-hub/internal/user"
)

// fixedNow renders as "09:05".
var fixedNow = time.Date(2024, 3, 1, 9, 5, 0, 0, time.Local)

type testEnv struct {
	hub   *Hub
	users *user.Repository
	store *Repository
}

func newTestEnv(t *testing.T, opts ...func(*Options)) *testEnv {
	t.Helper()
	database, err := db.NewDatabase(db.DriverSQLite, filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.AutoMigrate())

	o := Options{
		IdleTimeout: time.Minute,
		Now:         func() time.Time { return fixedNow },
	}
	for _, fn := range opts {
		fn(&o)
	}

	users := user.NewRepository(database)
	store := NewRepository(database)
	return &testEnv{
		hub:   NewHub(users, store, zerolog.Nop(), o),
		users: users,
		store: store,
	}
}

func (e *testEnv) createUser(t *testing.T, name string) *user.User {
	t.Helper()
	u, err := e.users.CreateUser(context.Background(), &user.User{
		ID:       uuid.NewString(),
		Username: name,
		Password: "not-a-real-hash",
	})
	require.NoError(t, err)
	return u
}

// fakeConn records frames and close calls. Closing it ends its inbound stream.
type fakeConn struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  bool
	code    int
	reason  string

	inbound   chan []byte
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed {
		return ErrHandleClosed
	}
	c.frames = append(c.frames, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.code = code
		c.reason = reason
		c.mu.Unlock()
		close(c.inbound)
	})
}

func (c *fakeConn) Inbound() <-chan []byte {
	return c.inbound
}

func (c *fakeConn) failWith(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *fakeConn) sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func (c *fakeConn) closeState() (bool, int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.code, c.reason
}

// framesOfType decodes every recorded frame carrying the given "type".
func (c *fakeConn) framesOfType(t *testing.T, kind string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, f := range c.sent() {
		var m map[string]any
		if json.Unmarshal(f, &m) != nil {
			continue
		}
		if m["type"] == kind {
			out = append(out, m)
		}
	}
	return out
}
