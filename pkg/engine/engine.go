// Package engine runs the polling loop that copies, verifies and finally
// removes the local files of one archive.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mwantia/suprsync/pkg/db/models"
	"github.com/mwantia/suprsync/pkg/db/store"
	"github.com/mwantia/suprsync/pkg/log"
	"github.com/mwantia/suprsync/pkg/transfer"
)

var ErrAlreadyRunning = errors.New("engine is already running")

type Status int32

const (
	StatusIdle Status = iota
	StatusRunning
	StatusStopping
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	}
	return "idle"
}

// Store is the part of the record store the engine depends on.
type Store interface {
	ClaimNext(ctx context.Context, archiveName, holder string, ttl time.Duration, opts store.SelectOptions) (*store.Claim, error)
	Complete(ctx context.Context, holder string, file *models.File) error
}

// Runner is the lifecycle surface of an engine.
type Runner interface {
	Run(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() Status
	Stats() Stats
}

type Options struct {
	ArchiveName string
	// DeleteAfter is the retention window; nil runs the engine in copy-only mode.
	DeleteAfter *time.Duration
	// MaxCopyAttempts is the attempt ceiling; zero retries forever.
	MaxCopyAttempts int
	CopyTimeout     time.Duration
	// TimeoutWait replaces PollInterval after an iteration that timed out.
	TimeoutWait  time.Duration
	PollInterval time.Duration
	// ClaimTTL bounds how long a claimed record stays reserved; it must
	// outlast a full copy and verification.
	ClaimTTL time.Duration
}

type Engine struct {
	opts     Options
	store    Store
	transfer transfer.Transferer
	log      log.LoggerService
	id       string

	now    func() time.Time
	sleep  func(ctx context.Context, stop <-chan struct{}, d time.Duration)
	remove func(path string) error

	mutex sync.Mutex
	state atomic.Int32
	stop  chan struct{}
	done  chan struct{}

	stats counters
}

func New(opts Options, st Store, tr transfer.Transferer, logger log.LoggerService) (*Engine, error) {
	if opts.ArchiveName == "" {
		return nil, fmt.Errorf("archive name is required")
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if opts.CopyTimeout <= 0 {
		return nil, fmt.Errorf("copy timeout must be positive")
	}
	if opts.TimeoutWait <= 0 {
		opts.TimeoutWait = opts.PollInterval
	}
	if opts.MaxCopyAttempts < 0 {
		return nil, fmt.Errorf("max copy attempts must not be negative")
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = opts.CopyTimeout + time.Minute
	}
	if opts.ClaimTTL <= opts.CopyTimeout {
		return nil, fmt.Errorf("claim ttl %s must exceed the copy timeout %s", opts.ClaimTTL, opts.CopyTimeout)
	}

	return &Engine{
		opts:     opts,
		store:    st,
		transfer: tr,
		log:      logger,
		id:       uuid.NewString(),
		now:      time.Now,
		sleep:    sleep,
		remove:   os.Remove,
	}, nil
}

// ID identifies this engine instance as the archive lock holder.
func (e *Engine) ID() string {
	return e.id
}

func (e *Engine) Status() Status {
	return Status(e.state.Load())
}

func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}

// Run executes the polling loop until Stop is called or ctx is cancelled.
// Stop requests are honoured between iterations only.
func (e *Engine) Run(ctx context.Context) error {
	stop, err := e.start()
	if err != nil {
		return err
	}
	defer e.finish()

	e.log.Info("Starting sync of archive '%s' (instance %s)", e.opts.ArchiveName, e.id)

	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		wait := e.opts.PollInterval

		result, err := e.Iterate(ctx)
		switch {
		case err != nil:
			e.log.Error("Iteration for archive '%s' failed: %v", e.opts.ArchiveName, err)
		case result.TimedOut:
			wait = e.opts.TimeoutWait
			e.log.Warn("Timed out processing %s (archive '%s'), waiting %s before next attempt",
				result.LocalPath, e.opts.ArchiveName, wait)
		}

		e.sleep(ctx, stop, wait)
	}
}

// Stop asks the loop to exit and waits until the in-flight iteration has
// completed or ctx is done.
func (e *Engine) Stop(ctx context.Context) error {
	e.mutex.Lock()
	switch e.Status() {
	case StatusIdle:
		e.mutex.Unlock()
		return nil
	case StatusRunning:
		e.state.Store(int32(StatusStopping))
		close(e.stop)
		e.log.Info("Stopping sync of archive '%s'", e.opts.ArchiveName)
	}
	done := e.done
	e.mutex.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cleanup stops the engine when the service container shuts down.
func (e *Engine) Cleanup(ctx context.Context) error {
	return e.Stop(ctx)
}

func (e *Engine) start() (<-chan struct{}, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.Status() != StatusIdle {
		return nil, ErrAlreadyRunning
	}

	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.state.Store(int32(StatusRunning))
	return e.stop, nil
}

func (e *Engine) finish() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.state.Store(int32(StatusIdle))
	close(e.done)

	s := e.stats.snapshot()
	e.log.Info("Stopped sync of archive '%s': %d copied, %d copy failures (%d timeouts, %d given up), %d removed, %d remove failures, %d store errors",
		e.opts.ArchiveName, s.Copied, s.CopyFailures, s.Timeouts, s.GaveUp, s.Removed, s.RemoveFailures, s.StoreErrors)
}

func sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-stop:
	case <-ctx.Done():
	}
}
