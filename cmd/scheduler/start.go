/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/airbyte-oss/scheduler-core/internal/app"
	"github.com/airbyte-oss/scheduler-core/internal/cleaner"
	"github.com/airbyte-oss/scheduler-core/internal/config"
	"github.com/airbyte-oss/scheduler-core/internal/configstore"
	"github.com/airbyte-oss/scheduler-core/internal/logging"
	"github.com/airbyte-oss/scheduler-core/internal/metrics"
	"github.com/airbyte-oss/scheduler-core/internal/process"
	"github.com/airbyte-oss/scheduler-core/internal/retrier"
	"github.com/airbyte-oss/scheduler-core/internal/scheduler"
	"github.com/airbyte-oss/scheduler-core/internal/submitter"
	"github.com/airbyte-oss/scheduler-core/internal/tracking"
	"github.com/airbyte-oss/scheduler-core/internal/workflow"
)

func newStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context())
		},
	}
	return cmd
}

func runStart(ctx context.Context) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("start: load config: %w", err)
	}

	log, flushLogs, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return fmt.Errorf("start: setup logging: %w", err)
	}
	defer flushLogs()

	log.Info("start: opening database", "workerEnvironment", cfg.WorkerEnvironment)
	store, err := app.OpenStoreWithRetry(ctx, cfg, log)
	if err != nil {
		return err
	}

	if err := app.MigrateIfRequested(cfg, store.DB()); err != nil {
		return fmt.Errorf("start: migrate: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	factory, err := buildProcessFactory(cfg, log, m)
	if err != nil {
		return fmt.Errorf("start: build process factory: %w", err)
	}

	version, err := app.WaitForVersion(ctx, store, log)
	if err != nil {
		return err
	}
	log.Info("start: database version observed", "version", version)
	if version != cfg.AirbyteVersion {
		return fmt.Errorf("start: application version %s is incompatible with database version %s", cfg.AirbyteVersion, version)
	}

	configRepo, err := configstore.Open(cfg.ConfigRoot, log)
	if err != nil {
		return fmt.Errorf("start: open config store: %w", err)
	}

	workflowClient := workflow.NewHTTPClient(cfg.TemporalHost)
	trackingClient := tracking.NewLoggingClient(log)

	schedComp := scheduler.New(configRepo, store, log)
	retrierComp := retrier.New(store, retrier.Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}, log, m, trackingClient)
	subComp, err := submitter.New(store, workflowClient, trackingClient, log, cfg.MaxSubmitterWorkers, cfg.PoolCheckoutTimeout, m)
	if err != nil {
		return fmt.Errorf("start: build submitter: %w", err)
	}
	cleanerComp := cleaner.New(cfg.WorkspaceRoot, cleaner.RetentionPolicy{
		MinAge:       hours(cfg.WorkspaceMinAgeHours),
		MaxAge:       hours(cfg.WorkspaceMaxAgeHours),
		MaxSizeBytes: cfg.WorkspaceMaxSizeBytes,
	}, log, m)

	application := app.New(cfg, log, factory, retrierComp, schedComp, subComp, cleanerComp, store, configRepo, registry, trackingClient)

	log.Info("start: starting scheduler")
	if err := application.Run(ctx); err != nil {
		log.Error(err, "start: scheduler exited with error")
		os.Exit(1)
	}
	return nil
}

func buildProcessFactory(cfg config.Config, log logr.Logger, m *metrics.Metrics) (process.Factory, error) {
	switch cfg.WorkerEnvironment {
	case config.WorkerKubernetes:
		restCfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("kubernetes in-cluster config: %w", err)
		}
		clientset, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, fmt.Errorf("kubernetes clientset: %w", err)
		}
		namespace, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace")
		ns := "default"
		if err == nil {
			ns = string(namespace)
		}
		return process.NewKubernetesFactory(clientset, restCfg, process.KubernetesFactoryConfig{
			Namespace:           ns,
			SchedulerHost:       "scheduler",
			HeartbeatPort:       cfg.KubeHeartbeatPort,
			HeartbeatPeriod:     cfg.HeartbeatInterval,
			HeartbeatMisses:     cfg.HeartbeatMaxMisses,
			WorkerPorts:         cfg.TemporalWorkerPorts,
			PortCheckoutTimeout: cfg.PoolCheckoutTimeout,
		}, log, m)
	default:
		return process.NewDockerFactory(cfg.WorkspaceDockerMount, cfg.LocalDockerMount, cfg.DockerNetwork, log), nil
	}
}

func hours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}
