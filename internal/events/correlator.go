// Package events waits for asynchronous disk-task completions on the Freebox
// event-stream channel.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fbxtools/fbxvm/internal/freebox"
)

const (
	eventStreamPath = "/ws/event/"
	diskTaskEvent   = "vm_disk_task_done"
)

var (
	// ErrRegisterRefused means the Freebox rejected the event registration.
	ErrRegisterRefused = errors.New("events: registration refused")

	// ErrNoTask means the issuing action did not yield a task to wait for.
	ErrNoTask = errors.New("events: no task issued")
)

// ChannelDialer opens WebSocket channels on the control API.
type ChannelDialer interface {
	DialWS(ctx context.Context, path string, subprotocols []string) (*websocket.Conn, string, error)
}

// TaskDeleter acknowledges finished disk tasks.
type TaskDeleter interface {
	DeleteDiskTask(ctx context.Context, id int64) error
}

// Correlator runs a disk operation and waits for its completion notification.
type Correlator struct {
	dial ChannelDialer
	api  TaskDeleter
	log  zerolog.Logger
}

// New returns a correlator using the given channel dialer and task API.
func New(dial ChannelDialer, api TaskDeleter, log zerolog.Logger) *Correlator {
	return &Correlator{dial: dial, api: api, log: log}
}

// message covers both inbound frames of the event stream: the registration
// ack and task notifications.
type message struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Source  string `json:"source"`
	Event   string `json:"event"`
	Result  struct {
		ID int64 `json:"id"`
	} `json:"result"`
}

// Run registers for disk-task events, then executes issue and blocks until
// the matching completion notification arrives. Registration strictly
// precedes issue: the completion event cannot be missed in the window between
// starting the operation and listening for it. On success the finished task
// is deleted server-side.
func (c *Correlator) Run(ctx context.Context, issue func(context.Context) (freebox.DiskTask, error)) error {
	conn, _, err := c.dial.DialWS(ctx, eventStreamPath, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock reads if the caller cancels mid-wait.
	watchdone := make(chan struct{})
	defer close(watchdone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchdone:
		}
	}()

	if err := conn.WriteJSON(map[string]any{
		"action": "register",
		"events": []string{diskTaskEvent},
	}); err != nil {
		return fmt.Errorf("events: register: %w", err)
	}
	if err := c.awaitAck(ctx, conn); err != nil {
		return err
	}

	task, err := issue(ctx)
	if err != nil {
		return err
	}
	if task.ID == 0 {
		return ErrNoTask
	}

	if err := c.awaitCompletion(ctx, conn, task.ID); err != nil {
		if ctx.Err() != nil {
			// Best-effort cleanup so a cancelled wait does not leave an
			// orphaned task behind.
			cleanup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if derr := c.api.DeleteDiskTask(cleanup, task.ID); derr != nil {
				c.log.Warn().Err(derr).Int64("task_id", task.ID).Msg("could not delete cancelled disk task")
			}
		}
		return err
	}
	return c.api.DeleteDiskTask(ctx, task.ID)
}

// awaitAck consumes frames until the registration ack arrives.
func (c *Correlator) awaitAck(ctx context.Context, conn *websocket.Conn) error {
	for {
		msg, err := c.readMessage(ctx, conn)
		if err != nil {
			return err
		}
		if msg == nil {
			continue
		}
		if msg.Action != "register" {
			// Not a task event yet: nothing is registered until the ack.
			c.log.Debug().Str("action", msg.Action).Msg("ignoring pre-registration frame")
			continue
		}
		if !msg.Success {
			return ErrRegisterRefused
		}
		return nil
	}
}

// awaitCompletion consumes frames until the notification for taskID arrives.
// Completions of other tasks on the same VM are ignored.
func (c *Correlator) awaitCompletion(ctx context.Context, conn *websocket.Conn, taskID int64) error {
	for {
		msg, err := c.readMessage(ctx, conn)
		if err != nil {
			return err
		}
		if msg == nil {
			continue
		}
		if msg.Action != "notification" || msg.Source != "vm" || msg.Event != "disk_task_done" {
			continue
		}
		if msg.Result.ID != taskID {
			c.log.Debug().Int64("got", msg.Result.ID).Int64("want", taskID).Msg("ignoring unrelated disk task event")
			continue
		}
		return nil
	}
}

// readMessage reads one frame. Malformed frames are skipped (nil, nil):
// a single bad payload must not abort a long-lived wait.
func (c *Correlator) readMessage(ctx context.Context, conn *websocket.Conn) (*message, error) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("events: channel read: %w", err)
	}
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Debug().Err(err).Msg("skipping malformed event frame")
		return nil, nil
	}
	return &msg, nil
}
