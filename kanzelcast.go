// Package kanzelcast assembles the broadcast control core: the event
// session machine, the recording selector, the resumable upload engine and
// queue, the OAuth token guard and the durable store. The surrounding
// application shell embeds this package; there is no CLI surface.
package kanzelcast

import (
	"context"
	"fmt"

	"kanzelcast/internal/config"
	"kanzelcast/internal/log"
	"kanzelcast/internal/platform"
	"kanzelcast/internal/queue"
	"kanzelcast/internal/recordings"
	"kanzelcast/internal/session"
	"kanzelcast/internal/store"
	"kanzelcast/internal/token"
	"kanzelcast/internal/upload"
)

// App wires every component over one store and one platform client.
type App struct {
	cfg config.Config

	Store    store.Store
	Tokens   *token.Guard
	Engine   *upload.Engine
	Queue    *queue.Coordinator
	Sessions *session.Machine
}

// New builds the application core against the given platform base URL.
// The prober supplies media durations during recording scans; the shell
// typically backs it with ffprobe. Call Start afterwards to restore
// persisted state and begin draining.
func New(cfg config.Config, platformBaseURL string, prober recordings.DurationProber) (*App, error) {
	if prober == nil {
		return nil, fmt.Errorf("kanzelcast: duration prober is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log.Configure(log.Config{Level: cfg.LogLevel})

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client := platform.NewHTTPClient(platformBaseURL)
	guard := token.NewGuard(client, cfg.Token)
	engine := upload.NewEngine(st, client, guard, cfg.Upload)
	coord := queue.NewCoordinator(st, engine)

	machine := session.NewMachine(cfg, session.Deps{
		Selector:    &recordings.Selector{Scanner: &recordings.DirScanner{Prober: prober}},
		Uploader:    coord,
		Uploads:     st,
		Snapshots:   st,
		Broadcaster: client,
		Tokens:      guard,
	})

	engine.SetActivitySink(machine.RecordUploadActivity)
	coord.SetFinishListener(machine.HandleUploadFinished)
	guard.OnLogin(func() { coord.HandleLogin(context.Background()) })

	return &App{
		cfg:      cfg,
		Store:    st,
		Tokens:   guard,
		Engine:   engine,
		Queue:    coord,
		Sessions: machine,
	}, nil
}

// Start restores persisted sessions, demotes uploads interrupted by the
// previous shutdown and launches the queue worker.
func (a *App) Start(ctx context.Context) error {
	if _, err := a.Queue.Restore(ctx); err != nil {
		return fmt.Errorf("restore uploads: %w", err)
	}
	if err := a.Sessions.Restore(ctx); err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}
	a.Queue.Start()
	return nil
}

// Stop interrupts the in-flight transfer, waits for automation goroutines
// and closes the store.
func (a *App) Stop(ctx context.Context) error {
	if err := a.Queue.Stop(ctx); err != nil {
		return err
	}
	a.Sessions.Close()
	return a.Store.Close()
}
