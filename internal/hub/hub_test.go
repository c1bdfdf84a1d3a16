package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"collabroom/internal/logging"
	"collabroom/pkg/types"
)

// fakeDispatcher records calls in arrival order
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []string
	fail  error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, connID string, env *types.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, connID+":"+env.Type)
	return f.fail
}

func (f *fakeDispatcher) Disconnect(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, connID+":disconnect")
}

func (f *fakeDispatcher) RoomSummaries() []types.RoomSummary {
	return []types.RoomSummary{{RoomID: "r1", MemberCount: 2}}
}

func (f *fakeDispatcher) RoomDetail(roomID string) (*types.RoomDetail, bool) {
	if roomID != "r1" {
		return nil, false
	}
	return &types.RoomDetail{RoomID: "r1", CanvasStep: -1}, true
}

func (f *fakeDispatcher) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newStartedHub(t *testing.T, d Dispatcher) *Hub {
	t.Helper()
	h := NewHub(d, 16, logging.Discard())
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	t.Cleanup(func() {
		if h.IsRunning() {
			h.Stop()
		}
	})
	return h
}

func TestHub_StartStop(t *testing.T) {
	h := NewHub(&fakeDispatcher{}, 0, logging.Discard())

	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Expected no error starting hub, got %v", err)
	}
	if err := h.Start(context.Background()); err != ErrHubAlreadyRunning {
		t.Errorf("Expected ErrHubAlreadyRunning, got %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Errorf("Expected no error stopping hub, got %v", err)
	}
	if err := h.Stop(); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}

	// Restart after stop
	if err := h.Start(context.Background()); err != nil {
		t.Errorf("Hub should restart after stop, got %v", err)
	}
	h.Stop()
}

func TestHub_RejectsWorkWhenStopped(t *testing.T) {
	h := NewHub(&fakeDispatcher{}, 0, logging.Discard())
	env := &types.Envelope{Type: types.EventJoin}

	if err := h.SendMessage(context.Background(), "c1", env); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
	if err := h.Disconnect(context.Background(), "c1"); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
	if _, err := h.Rooms(context.Background()); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
}

func TestHub_PreservesOrderAcrossEventsAndDisconnect(t *testing.T) {
	d := &fakeDispatcher{}
	h := newStartedHub(t, d)
	ctx := context.Background()

	kinds := []string{types.EventJoin, types.EventCodeChange, types.EventCursorPosition}
	for _, kind := range kinds {
		if err := h.SendMessage(ctx, "c1", &types.Envelope{Type: kind, Data: json.RawMessage(`{}`)}); err != nil {
			t.Fatalf("SendMessage failed: %v", err)
		}
	}
	if err := h.Disconnect(ctx, "c1"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	// Inspect is served by the same loop, so it runs after everything queued before it
	if _, err := h.Rooms(ctx); err != nil {
		t.Fatalf("Rooms failed: %v", err)
	}

	want := []string{"c1:join", "c1:code-change", "c1:cursor-position", "c1:disconnect"}
	got := d.snapshot()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Call %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestHub_DispatchErrorsDoNotStopLoop(t *testing.T) {
	d := &fakeDispatcher{fail: errors.New("dropped")}
	h := newStartedHub(t, d)
	ctx := context.Background()

	h.SendMessage(ctx, "c1", &types.Envelope{Type: "bogus"})
	h.SendMessage(ctx, "c1", &types.Envelope{Type: "bogus"})

	if _, err := h.Rooms(ctx); err != nil {
		t.Fatalf("Hub should keep serving after dispatch errors: %v", err)
	}
	if n := len(d.snapshot()); n != 2 {
		t.Errorf("Expected 2 dispatches, got %d", n)
	}
}

func TestHub_SendMessageRequiresEnvelope(t *testing.T) {
	h := newStartedHub(t, &fakeDispatcher{})
	if err := h.SendMessage(context.Background(), "c1", nil); err != ErrInvalidEnvelope {
		t.Errorf("Expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestHub_InspectRoom(t *testing.T) {
	h := newStartedHub(t, &fakeDispatcher{})
	ctx := context.Background()

	rooms, err := h.Rooms(ctx)
	if err != nil || len(rooms) != 1 || rooms[0].MemberCount != 2 {
		t.Errorf("Unexpected rooms %+v (%v)", rooms, err)
	}

	detail, ok, err := h.Room(ctx, "r1")
	if err != nil || !ok || detail.RoomID != "r1" {
		t.Errorf("Unexpected room detail %+v ok=%v err=%v", detail, ok, err)
	}

	_, ok, err = h.Room(ctx, "missing")
	if err != nil || ok {
		t.Errorf("Missing room should report ok=false, got ok=%v err=%v", ok, err)
	}
}

func TestHub_SendMessageHonorsContext(t *testing.T) {
	// A dispatcher that blocks keeps the queue full
	release := make(chan struct{})
	blocking := &blockingDispatcher{release: release, started: make(chan struct{})}
	h := NewHub(blocking, 1, logging.Discard())
	if err := h.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() {
		close(release)
		h.Stop()
	}()

	env := &types.Envelope{Type: types.EventCodeChange}
	h.SendMessage(context.Background(), "c1", env) // picked up, blocks in dispatch
	<-blocking.started
	h.SendMessage(context.Background(), "c1", env) // fills the queue

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := h.SendMessage(ctx, "c1", env); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded on a full queue, got %v", err)
	}
}

func TestHub_ContextCancelStopsLoop(t *testing.T) {
	h := NewHub(&fakeDispatcher{}, 0, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for h.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.IsRunning() {
		t.Error("Hub should stop when its context is cancelled")
	}
}

type blockingDispatcher struct {
	fakeDispatcher
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (b *blockingDispatcher) Dispatch(ctx context.Context, connID string, env *types.Envelope) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return nil
}
