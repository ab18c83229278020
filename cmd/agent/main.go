// Copyright (c) 2026, Classpulse Labs.
//
// Classpulse Labs licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classpulse/engage-agent/internal/activity"
	"github.com/classpulse/engage-agent/internal/classroom"
	"github.com/classpulse/engage-agent/internal/compose"
	"github.com/classpulse/engage-agent/internal/device"
	"github.com/classpulse/engage-agent/internal/insights"
	"github.com/classpulse/engage-agent/internal/logging"
	"github.com/classpulse/engage-agent/internal/orchestrator"
	"github.com/classpulse/engage-agent/internal/quiz"
	"github.com/classpulse/engage-agent/internal/telemetry"
	"github.com/classpulse/engage-agent/pkg/config"
	"github.com/classpulse/engage-agent/pkg/core"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "/etc/engage-agent/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	traffic := logging.NewTrafficLogger(logger.With("component", "traffic"))
	api := classroom.New(cfg.APIBaseURL, cfg.Token, logger.With("component", "api"))
	sync := quiz.New(api, cfg.SessionID, logger.With("component", "quiz"))

	opts := orchestrator.Options{
		SessionID:    cfg.SessionID,
		AuthType:     cfg.AuthType,
		DeviceInfo:   cfg.DeviceInfo(),
		PollInterval: cfg.PollInterval(),
		Topic:        core.NormalizeTopicDifficulty(cfg.TopicDifficulty),
		API:          api,
		Quiz:         sync,
		Logger:       logger.With("component", "orchestrator"),
	}

	switch cfg.Role {
	case config.RoleInstructor:
		opts.Role = orchestrator.RoleInstructor
		channel := insights.New(cfg.SocketBaseURL, cfg.SessionID, cfg.Token, logger.With("component", "insights"), traffic)
		if err := channel.SetTopicDifficulty(opts.Topic); err != nil {
			logger.Warn("failed to set topic difficulty", "error", err)
		}
		opts.Insights = channel
	default:
		opts.Role = orchestrator.RoleStudent
		source := device.NewSnapshotSource(cfg.Camera.SnapshotURL, cfg.CaptureTimeout())
		manager := device.NewManager(source, logger.With("component", "device"))
		monitor := activity.NewMonitor()
		channel := telemetry.New(cfg.SocketBaseURL, cfg.SessionID, cfg.Token, logger.With("component", "telemetry"), traffic)
		composer := compose.New(manager, monitor, sync, channel, cfg.ComposeInterval(), logger.With("component", "compose"))

		opts.Device = manager
		opts.Activity = monitor
		opts.Telemetry = channel
		opts.Composer = composer
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent := orchestrator.New(opts)
	go agent.Run(ctx)

	logger.Info("engage agent started",
		"session_id", cfg.SessionID,
		"role", cfg.Role,
		"version", config.AgentVersion)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down engage agent")
	cancel()

	stopped := make(chan struct{})
	go func() {
		agent.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		logger.Warn("teardown timed out")
	}

	logger.Info("engage agent stopped")
}
