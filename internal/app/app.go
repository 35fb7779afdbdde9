// Package app wires every scheduler component into the startup/shutdown
// sequence of SPEC_FULL.md §4.8, expressed as golly lifecycle.Components
// registered with a ComponentManager, mirroring the teacher's manager-driven
// startup in cmd/operator/start.go.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"oss.nandlabs.io/golly/chrono"
	"oss.nandlabs.io/golly/lifecycle"

	"github.com/airbyte-oss/scheduler-core/internal/cleaner"
	"github.com/airbyte-oss/scheduler-core/internal/config"
	"github.com/airbyte-oss/scheduler-core/internal/configstore"
	"github.com/airbyte-oss/scheduler-core/internal/persistence"
	"github.com/airbyte-oss/scheduler-core/internal/process"
	"github.com/airbyte-oss/scheduler-core/internal/reaper"
	"github.com/airbyte-oss/scheduler-core/internal/retrier"
	"github.com/airbyte-oss/scheduler-core/internal/scheduler"
	"github.com/airbyte-oss/scheduler-core/internal/submitter"
	"github.com/airbyte-oss/scheduler-core/internal/telemetry"
	"github.com/airbyte-oss/scheduler-core/internal/tracking"
)

// App is the SchedulerApp driver: it sequences every component's startup
// per spec.md §4.8. On shutdown it stops the periodic loops, drains the
// submitter, stops the remaining components, and then closes the config
// store, the process factory and the database.
type App struct {
	cfg     config.Config
	log     logr.Logger
	manager lifecycle.ComponentManager
	tracker tracking.Client

	store         *persistence.PostgresStore
	configRepo    *configstore.Repository
	factory       process.Factory
	heartbeat     *process.HeartbeatServer
	metricsServer *http.Server
	registry      *prometheus.Registry
	retrierComp   *retrier.Retrier
	schedComp     *scheduler.Scheduler
	subComp       *submitter.Submitter
	cleanerComp   *cleaner.Cleaner
}

// New assembles an App from its already-wired components. registry is
// served read-only at cfg.MetricsBindAddress's "/metrics" path.
func New(cfg config.Config, log logr.Logger, factory process.Factory,
	retrierComp *retrier.Retrier, schedComp *scheduler.Scheduler, subComp *submitter.Submitter,
	cleanerComp *cleaner.Cleaner, store *persistence.PostgresStore, configRepo *configstore.Repository,
	registry *prometheus.Registry, tracker tracking.Client) *App {

	if tracker == nil {
		tracker = tracking.NoopClient()
	}
	return &App{
		cfg:         cfg,
		log:         log,
		manager:     lifecycle.NewSimpleComponentManager(),
		tracker:     tracker,
		store:       store,
		configRepo:  configRepo,
		factory:     factory,
		registry:    registry,
		retrierComp: retrierComp,
		schedComp:   schedComp,
		subComp:     subComp,
		cleanerComp: cleanerComp,
	}
}

// OpenStoreWithRetry opens the Postgres store using exponential backoff,
// per spec.md §4.8 step 2.
func OpenStoreWithRetry(ctx context.Context, cfg config.Config, log logr.Logger) (*persistence.PostgresStore, error) {
	var store *persistence.PostgresStore
	op := func() error {
		s, err := persistence.Open(ctx, cfg.DatabaseURL, cfg.WorkspaceRoot)
		if err != nil {
			log.Info("app: database not yet reachable, retrying", "error", err.Error())
			return err
		}
		store = s
		return nil
	}

	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("app: open database: %w", err)
	}
	return store, nil
}

// WaitForVersion polls getVersion() up to 300s (spec.md §4.8 step 5),
// signaling that the config server has run its own migrations.
func WaitForVersion(ctx context.Context, store persistence.JobPersistence, log logr.Logger) (string, error) {
	deadline := time.Now().Add(300 * time.Second)
	for {
		v, err := store.GetVersion(ctx)
		if err == nil {
			return v, nil
		}
		if err != persistence.ErrNotFound {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("app: timed out waiting for database version")
		}
		log.Info("app: waiting for database version to be set")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// MigrateIfRequested runs embedded goose migrations when AUTO_MIGRATE is
// set (spec.md §4.8 step 3).
func MigrateIfRequested(cfg config.Config, db *sql.DB) error {
	if !cfg.AutoMigrate {
		return nil
	}
	return persistence.Migrate(db)
}

// Run registers every component with the manager in startup order and
// blocks until shutdown. The zombie reaper (spec.md §4.8 step 8) runs
// synchronously before any periodic loop is registered.
func (a *App) Run(ctx context.Context) error {
	if err := reaper.New(a.store, a.log, a.tracker).Run(ctx); err != nil {
		return fmt.Errorf("app: zombie reaper failed: %w", err)
	}

	if a.registry != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		a.metricsServer = &http.Server{Addr: a.cfg.MetricsBindAddress, Handler: mux}
		a.manager.Register(&lifecycle.SimpleComponent{
			CompId: "metrics-server",
			StartFunc: func() error {
				go func() {
					if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						a.log.Error(err, "app: metrics server exited")
					}
				}()
				return nil
			},
			StopFunc: func() error {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return a.metricsServer.Shutdown(stopCtx)
			},
		})
	}

	if a.cfg.WorkerEnvironment == config.WorkerKubernetes {
		a.heartbeat = process.NewHeartbeatServer(fmt.Sprintf(":%d", a.cfg.KubeHeartbeatPort), a.log)
		a.manager.Register(&lifecycle.SimpleComponent{
			CompId: "heartbeat-server",
			StartFunc: func() error {
				a.heartbeat.Start()
				return nil
			},
			StopFunc: func() error {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return a.heartbeat.Stop(stopCtx)
			},
		})
	}

	dispatchScheduler := chrono.New()
	a.manager.Register(&lifecycle.SimpleComponent{
		CompId: "dispatch-loop",
		StartFunc: func() error {
			if err := dispatchScheduler.Start(); err != nil {
				return err
			}
			return dispatchScheduler.AddIntervalJob("dispatch", "dispatch-tick", a.dispatchTick, a.cfg.DispatchInterval)
		},
		StopFunc: func() error {
			return dispatchScheduler.Stop()
		},
	})

	cleanerScheduler := chrono.New()
	a.manager.Register(&lifecycle.SimpleComponent{
		CompId: "cleaner-loop",
		StartFunc: func() error {
			if err := cleanerScheduler.Start(); err != nil {
				return err
			}
			return cleanerScheduler.AddIntervalJob("cleaner", "cleaner-tick", func(context.Context) error {
				return a.cleanerComp.Run()
			}, a.cfg.CleanerInterval)
		},
		StopFunc: func() error {
			return cleanerScheduler.Stop()
		},
	})

	a.manager.StartAll()
	go a.awaitShutdown(ctx)
	a.manager.Wait()

	if a.configRepo != nil {
		_ = a.configRepo.Close()
	}
	if a.factory != nil {
		_ = a.factory.Close()
	}
	return a.store.Close()
}

// awaitShutdown implements spec step 10's signal handler: once ctx is
// cancelled (SIGINT/SIGTERM), it (a) stops the periodic loops so no new
// dispatch tick is accepted, (b) gives the submitter's in-flight attempts up
// to GracefulShutdownPeriod to finish, (c) forcibly cancels whatever
// remains, and finally tears down every other component so manager.Wait
// returns.
func (a *App) awaitShutdown(ctx context.Context) {
	<-ctx.Done()
	a.log.Info("app: shutdown signal received, draining in-flight work", "gracePeriod", a.cfg.GracefulShutdownPeriod)

	if err := a.manager.Stop("dispatch-loop"); err != nil {
		a.log.Error(err, "app: error stopping dispatch loop")
	}
	if err := a.manager.Stop("cleaner-loop"); err != nil {
		a.log.Error(err, "app: error stopping cleaner loop")
	}

	if a.subComp != nil {
		if err := a.subComp.Close(a.cfg.GracefulShutdownPeriod); err != nil {
			a.log.Error(err, "app: error draining submitter")
		}
	}

	a.manager.StopAll()
}

func (a *App) dispatchTick(ctx context.Context) error {
	ctx, span := telemetry.StartDispatchSpan(ctx)
	defer span.End()

	if err := a.retrierComp.Tick(ctx); err != nil {
		a.log.Error(err, "app: retrier tick failed")
	}
	if err := a.schedComp.Tick(ctx); err != nil {
		a.log.Error(err, "app: scheduler tick failed")
	}
	a.subComp.Tick(ctx)
	return nil
}
