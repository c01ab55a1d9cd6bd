package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mwantia/fabric/pkg/container"
	config "github.com/mwantia/suprsync/internal/config/server"
	"github.com/mwantia/suprsync/pkg/db/store"
	"github.com/mwantia/suprsync/pkg/engine"
	"github.com/mwantia/suprsync/pkg/log"
	"github.com/mwantia/suprsync/pkg/transfer"
)

type SuprsyncAgent struct {
	mutex sync.RWMutex
	wait  sync.WaitGroup

	cfg *config.BaseServerConfig
	sc  *container.ServiceContainer
	log log.LoggerService

	store  *store.SQLiteStore
	engine *engine.Engine
}

func NewAgent(cfg *config.BaseServerConfig) *SuprsyncAgent {
	return &SuprsyncAgent{
		cfg: cfg,
		sc:  container.NewServiceContainer(),
		log: log.NewLoggerService("suprsync", cfg.Log),
	}
}

func (sa *SuprsyncAgent) setupServices(ctx context.Context) error {
	errs := container.Errors{}

	sa.log.Debug("Registering 'LoggerService'...")
	errs.Add(container.Register[log.LoggerServiceImpl](sa.sc,
		container.With[log.LoggerService](),
		container.WithInstance(sa.log)))
	if err := errs.Errors(); err != nil {
		return err
	}

	storeLog, err := log.Resolve(ctx, sa.sc, "store")
	if err != nil {
		return err
	}
	engineLog, err := log.Resolve(ctx, sa.sc, "engine")
	if err != nil {
		return err
	}

	timings, err := sa.cfg.Archive.Timings()
	if err != nil {
		return err
	}

	st, err := store.NewFromConfig(sa.cfg.Metadata)
	if err != nil {
		return err
	}
	if err := st.Connect(ctx); err != nil {
		st.Close()
		return fmt.Errorf("failed to connect to %s: %w", sa.cfg.Metadata.SQLite.Path, err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return fmt.Errorf("failed to migrate %s: %w", sa.cfg.Metadata.SQLite.Path, err)
	}
	storeLog.Info("Opened record store at %s", sa.cfg.Metadata.SQLite.Path)
	sa.store = st

	sa.log.Debug("Registering 'RecordStore'...")
	errs.Add(container.Register[store.SQLiteStore](sa.sc,
		container.With[store.RecordStore](),
		container.WithInstance(st)))

	eng, err := engine.New(engine.Options{
		ArchiveName:     sa.cfg.Archive.Name,
		DeleteAfter:     timings.DeleteAfter,
		MaxCopyAttempts: sa.cfg.Archive.MaxCopyAttempts,
		CopyTimeout:     timings.CopyTimeout,
		TimeoutWait:     timings.TimeoutWait,
		PollInterval:    timings.PollInterval,
		ClaimTTL:        claimTTL(timings),
	}, st, newTransfer(sa.cfg.Archive, timings), engineLog)
	if err != nil {
		return err
	}
	sa.engine = eng

	sa.log.Debug("Registering 'Engine'...")
	errs.Add(container.Register[engine.Engine](sa.sc,
		container.With[engine.Runner](),
		container.WithInstance(eng)))

	return errs.Errors()
}

// claimTTL covers a full copy, both remote commands and some slack.
func claimTTL(t config.ArchiveTimings) time.Duration {
	return t.CopyTimeout + 2*t.CmdTimeout + time.Minute
}

func newTransfer(cfg config.ArchiveServerConfig, timings config.ArchiveTimings) transfer.Transferer {
	if !cfg.IsRemote() {
		return transfer.NewLocalTransfer(cfg.RemoteBaseDir)
	}

	return &transfer.RemoteTransfer{
		Host:                  cfg.SSH.Host,
		BaseDir:               cfg.RemoteBaseDir,
		KeyPath:               cfg.SSH.Key,
		KnownHostsPath:        cfg.SSH.KnownHosts,
		InsecureIgnoreHostKey: cfg.SSH.InsecureIgnoreHostKey,
		RsyncPath:             cfg.SSH.RsyncPath,
		SSHPath:               cfg.SSH.SSHPath,
		CmdTimeout:            timings.CmdTimeout,
		Shell: &transfer.SSHShell{
			Host:                  cfg.SSH.Host,
			KeyPath:               cfg.SSH.Key,
			KnownHostsPath:        cfg.SSH.KnownHosts,
			InsecureIgnoreHostKey: cfg.SSH.InsecureIgnoreHostKey,
		},
	}
}

// Serve runs the engine until ctx is cancelled or the process receives
// SIGINT or SIGTERM. The in-flight iteration is allowed to finish within the
// shutdown timeout.
func (sa *SuprsyncAgent) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sa.mutex.Lock()
	if err := sa.setupServices(ctx); err != nil {
		sa.mutex.Unlock()
		sa.closeStore()
		return err
	}
	sa.mutex.Unlock()

	sa.log.Info("Agent started for archive '%s' (destination %s)", sa.cfg.Archive.Name, sa.destination())

	// Cancelled only when the engine does not stop within the shutdown timeout.
	runCtx, abort := context.WithCancel(context.Background())
	defer abort()

	failed := make(chan error, 1)
	sa.wait.Add(1)
	go func() {
		defer sa.wait.Done()
		if err := sa.engine.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			failed <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		sa.log.Info("Shutting down agent for archive '%s'", sa.cfg.Archive.Name)
	case runErr = <-failed:
		sa.log.Error("Engine for archive '%s' stopped: %v", sa.cfg.Archive.Name, runErr)
	}

	timeout, err := config.ParseDuration(sa.cfg.ShutdownTimeout)
	if err != nil {
		timeout = 10 * time.Second
	}

	shutdown, cancelShutdown := context.WithTimeout(context.Background(), timeout)
	defer cancelShutdown()

	if err := sa.engine.Stop(shutdown); err != nil {
		sa.log.Warn("Engine did not stop within %s, aborting in-flight transfer", timeout)
		abort()
	}
	sa.wait.Wait()

	if err := sa.sc.Cleanup(shutdown); err != nil {
		return fmt.Errorf("failed to complete service container cleanup: %w", err)
	}
	sa.closeStore()

	if closer, ok := sa.log.(interface{ Cleanup() error }); ok {
		closer.Cleanup()
	}
	return runErr
}

func (sa *SuprsyncAgent) destination() string {
	if sa.cfg.Archive.IsRemote() {
		return sa.cfg.Archive.SSH.Host + ":" + sa.cfg.Archive.RemoteBaseDir
	}
	return sa.cfg.Archive.RemoteBaseDir
}

func (sa *SuprsyncAgent) closeStore() {
	if sa.store == nil {
		return
	}
	if err := sa.store.Close(); err != nil {
		sa.log.Warn("Failed to close record store: %v", err)
	}
}
