package realtime

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSocket records written frames in memory.
type fakeSocket struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageType == 1 { // text frames only; ignore pings/close
		cp := make([]byte, len(data))
		copy(cp, data)
		f.frames = append(f.frames, cp)
	}
	return nil
}

func (f *fakeSocket) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

func waitForFrames(t *testing.T, f *fakeSocket, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frames := f.received(); len(frames) >= n {
			return frames
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames", n)
	return nil
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(zap.NewNop())
	t.Cleanup(hub.Close)
	return hub
}

func TestPublishReachesRoomMembers(t *testing.T) {
	hub := newTestHub(t)

	sock := &fakeSocket{}
	conn := NewConn(sock)
	hub.Attach(conn)

	threadID := uuid.New()
	room := ThreadRoom(threadID)
	hub.Subscribe(conn.ID, room)

	hub.Publish(room, EventNewMessage, NewMessagePayload{
		ID:       7,
		ThreadID: threadID,
		Content:  "hello",
		Role:     "user",
	})

	frames := waitForFrames(t, sock, 1)

	var env Envelope
	require.NoError(t, json.Unmarshal(frames[0], &env))
	assert.Equal(t, EventNewMessage, env.Event)
	assert.Equal(t, room, env.Room)

	payload, ok := env.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello", payload["content"])
}

func TestPublishSkipsOtherRooms(t *testing.T) {
	hub := newTestHub(t)

	sock := &fakeSocket{}
	conn := NewConn(sock)
	hub.Attach(conn)
	hub.Subscribe(conn.ID, ThreadRoom(uuid.New()))

	hub.Publish(ThreadRoom(uuid.New()), EventNewMessage, nil)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sock.received())
}

func TestPublishToEmptyRoomDoesNotBlock(t *testing.T) {
	hub := newTestHub(t)

	finished := make(chan struct{})
	go func() {
		hub.Publish("thread:none", EventNewMessage, nil)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on empty room")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := newTestHub(t)

	sock := &fakeSocket{}
	conn := NewConn(sock)
	hub.Attach(conn)

	room := CompanyRoom(uuid.New())
	hub.Subscribe(conn.ID, room)
	hub.Unsubscribe(conn.ID, room)

	hub.Publish(room, EventNewThread, nil)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sock.received())
	assert.Zero(t, hub.MemberCount(room))
}

func TestDetachRemovesFromAllRooms(t *testing.T) {
	hub := newTestHub(t)

	sock := &fakeSocket{}
	conn := NewConn(sock)
	hub.Attach(conn)

	roomA := ThreadRoom(uuid.New())
	roomB := CompanyRoom(uuid.New())
	hub.Subscribe(conn.ID, roomA)
	hub.Subscribe(conn.ID, roomB)

	hub.Detach(conn)

	assert.Zero(t, hub.MemberCount(roomA))
	assert.Zero(t, hub.MemberCount(roomB))

	sock.mu.Lock()
	closed := sock.closed
	sock.mu.Unlock()
	assert.True(t, closed)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := newTestHub(t)

	// Never started: the pump isn't draining, so the buffer fills up.
	sock := &fakeSocket{}
	conn := NewConn(sock)

	hub.mu.Lock()
	hub.conns[conn.ID] = conn
	hub.mu.Unlock()

	room := ThreadRoom(uuid.New())
	hub.Subscribe(conn.ID, room)

	finished := make(chan struct{})
	go func() {
		for i := 0; i < sendBufferSize*2; i++ {
			hub.Publish(room, EventNewMessage, NewMessagePayload{ID: int64(i)})
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	conn.Close("test done")
}

func TestConcurrentSubscribePublish(t *testing.T) {
	hub := newTestHub(t)

	room := CompanyRoom(uuid.New())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sock := &fakeSocket{}
			conn := NewConn(sock)
			hub.Attach(conn)
			hub.Subscribe(conn.ID, room)
			hub.Detach(conn)
		}()
		go func() {
			defer wg.Done()
			hub.Publish(room, EventNewThread, NewThreadPayload{ID: uuid.New()})
		}()
	}
	wg.Wait()
}
