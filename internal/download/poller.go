// Package download drives the Freebox download manager: submit, poll with
// progress, and clean up the task according to how it ended.
package download

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/fbxtools/fbxvm/internal/freebox"
)

// ErrTaskFailed means the download reached a terminal status other than done.
// The task and its partial file have already been erased.
var ErrTaskFailed = errors.New("download: task failed")

// API is the download-manager slice of the control API.
type API interface {
	DownloadTask(ctx context.Context, id int64) (freebox.DownloadTask, error)
	DeleteDownload(ctx context.Context, id int64) error
	EraseDownload(ctx context.Context, id int64) error
}

// Poller follows one download task to completion.
type Poller struct {
	api API
	out io.Writer
	log zerolog.Logger
}

// NewPoller returns a poller printing progress to out.
func NewPoller(api API, out io.Writer, log zerolog.Logger) *Poller {
	return &Poller{api: api, out: out, log: log}
}

// Wait polls the task until it finishes and returns the decoded path of the
// downloaded file. A successful task is deleted (the file is kept); a failed
// or cancelled one is erased along with its partial file, so neither an
// orphaned task nor a dangling artifact survives.
func (p *Poller) Wait(ctx context.Context, taskID int64) (string, error) {
	task, err := p.follow(ctx, taskID)
	if ctx.Err() != nil {
		p.erase(taskID)
		fmt.Fprintln(p.out, "\nInterrupted: download task and partial file erased")
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}

	if task.Status != freebox.DownloadStatusDone {
		p.erase(taskID)
		fmt.Fprintln(p.out, "Download failed: task and partial file erased")
		return "", fmt.Errorf("%w: status %q", ErrTaskFailed, task.Status)
	}

	dir, err := base64.StdEncoding.DecodeString(task.DownloadDir)
	if err != nil {
		return "", fmt.Errorf("download: decode destination dir: %w", err)
	}
	if err := p.api.DeleteDownload(ctx, taskID); err != nil {
		p.log.Warn().Err(err).Int64("task_id", taskID).Msg("could not delete finished download task")
	}
	return path.Join(string(dir), task.Name), nil
}

// follow polls until the task leaves the downloading and checking phases,
// printing progress along the way.
func (p *Poller) follow(ctx context.Context, taskID int64) (freebox.DownloadTask, error) {
	// Quick polls while the transfer ramps up, relaxed once it is moving.
	pace := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 500 * time.Millisecond, Factor: 1.5}

	var task freebox.DownloadTask
	for {
		var err error
		task, err = p.api.DownloadTask(ctx, taskID)
		if err != nil {
			return task, err
		}
		if task.Status != freebox.DownloadStatusDownloading {
			break
		}
		if task.Size > 0 {
			fmt.Fprintf(p.out, "\r  %s / %s", humanize.IBytes(uint64(task.RxBytes)), humanize.IBytes(uint64(task.Size)))
		}
		if task.RxBytes >= task.Size && task.Size > 0 {
			// Transfer complete; next poll should show the terminal status.
			pace.Reset()
		}
		if err := sleep(ctx, pace.Duration()); err != nil {
			return task, err
		}
	}
	if task.Size > 0 {
		fmt.Fprintf(p.out, "\r  %s / %s\n", humanize.IBytes(uint64(task.RxBytes)), humanize.IBytes(uint64(task.Size)))
	}

	if task.Status == freebox.DownloadStatusChecking {
		fmt.Fprintln(p.out, "Verifying checksum...")
	}
	for task.Status == freebox.DownloadStatusChecking {
		if err := sleep(ctx, 500*time.Millisecond); err != nil {
			return task, err
		}
		var err error
		task, err = p.api.DownloadTask(ctx, taskID)
		if err != nil {
			return task, err
		}
	}
	return task, nil
}

// erase removes the task and its partial file, best effort, on a fresh
// context so cancellation does not defeat the cleanup it triggered.
func (p *Poller) erase(taskID int64) {
	cleanup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.api.EraseDownload(cleanup, taskID); err != nil {
		p.log.Warn().Err(err).Int64("task_id", taskID).Msg("could not erase download task")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
