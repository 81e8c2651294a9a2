package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbxtools/fbxvm/internal/freebox"
)

// eventServer scripts the event-stream endpoint: it validates the register
// message, answers the ack, then replays frames.
type eventServer struct {
	ackSuccess bool
	frames     []string // raw frames sent after the ack

	mu         sync.Mutex
	registered []string
}

func (es *eventServer) handler(t *testing.T) http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var reg struct {
			Action string   `json:"action"`
			Events []string `json:"events"`
		}
		require.NoError(t, conn.ReadJSON(&reg))
		require.Equal(t, "register", reg.Action)
		es.mu.Lock()
		es.registered = reg.Events
		es.mu.Unlock()

		ack, _ := json.Marshal(map[string]any{"action": "register", "success": es.ackSuccess})
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, ack))
		for _, frame := range es.frames {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		}
		// Hold the channel open; the correlator closes it when done.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}

type serverDialer struct{ url string }

func (d *serverDialer) DialWS(ctx context.Context, path string, subprotocols []string) (*websocket.Conn, string, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.url, nil)
	return conn, "", err
}

type fakeDeleter struct {
	mu      sync.Mutex
	deleted []int64
}

func (f *fakeDeleter) DeleteDiskTask(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeDeleter) deletedIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.deleted...)
}

func runCorrelator(t *testing.T, es *eventServer, issue func(context.Context) (freebox.DiskTask, error)) (*fakeDeleter, error) {
	srv := httptest.NewServer(es.handler(t))
	t.Cleanup(srv.Close)
	deleter := &fakeDeleter{}
	c := New(&serverDialer{url: "ws" + strings.TrimPrefix(srv.URL, "http")}, deleter, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return deleter, c.Run(ctx, issue)
}

func TestCorrelatorMatchesExactTask(t *testing.T) {
	es := &eventServer{
		ackSuccess: true,
		frames: []string{
			`{"action":"notification","source":"vm","event":"disk_task_done","result":{"id":7}}`,  // other task: ignored
			`{"action":"notification","source":"dl","event":"disk_task_done","result":{"id":12}}`, // wrong source
			`this is not json`, // malformed: skipped, not fatal
			`{"action":"notification","source":"vm","event":"disk_task_done","result":{"id":12}}`,
			`{"action":"notification","source":"vm","event":"disk_task_done","result":{"id":12}}`, // duplicate after the wait ended
		},
	}

	issued := false
	deleter, err := runCorrelator(t, es, func(ctx context.Context) (freebox.DiskTask, error) {
		issued = true
		return freebox.DiskTask{ID: 12}, nil
	})
	require.NoError(t, err)
	assert.True(t, issued)
	assert.Equal(t, []int64{12}, deleter.deletedIDs(), "the finished task is deleted exactly once")

	es.mu.Lock()
	defer es.mu.Unlock()
	assert.Equal(t, []string{"vm_disk_task_done"}, es.registered)
}

func TestCorrelatorRefusedRegistration(t *testing.T) {
	es := &eventServer{ackSuccess: false}

	_, err := runCorrelator(t, es, func(ctx context.Context) (freebox.DiskTask, error) {
		t.Fatal("issue must not run before registration is acknowledged")
		return freebox.DiskTask{}, nil
	})
	assert.ErrorIs(t, err, ErrRegisterRefused)
}

func TestCorrelatorIssueFailureAbortsWait(t *testing.T) {
	es := &eventServer{ackSuccess: true}

	deleter, err := runCorrelator(t, es, func(ctx context.Context) (freebox.DiskTask, error) {
		return freebox.DiskTask{}, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, deleter.deletedIDs())
}

func TestCorrelatorNoTaskIssued(t *testing.T) {
	es := &eventServer{ackSuccess: true}

	_, err := runCorrelator(t, es, func(ctx context.Context) (freebox.DiskTask, error) {
		return freebox.DiskTask{}, nil
	})
	assert.ErrorIs(t, err, ErrNoTask)
}

func TestCorrelatorCancellationCleansUpTask(t *testing.T) {
	es := &eventServer{ackSuccess: true} // no frames: the wait would hang forever
	srv := httptest.NewServer(es.handler(t))
	t.Cleanup(srv.Close)
	deleter := &fakeDeleter{}
	c := New(&serverDialer{url: "ws" + strings.TrimPrefix(srv.URL, "http")}, deleter, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(ctx context.Context) (freebox.DiskTask, error) {
			return freebox.DiskTask{ID: 3}, nil
		})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("correlator did not unwind after cancellation")
	}
	assert.Equal(t, []int64{3}, deleter.deletedIDs(), "cancelled waits still delete the orphaned task")
}
