package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/agentcore-local/internal/agent"
	"github.com/nugget/agentcore-local/internal/agui"
	"github.com/nugget/agentcore-local/internal/api"
	"github.com/nugget/agentcore-local/internal/buildinfo"
	"github.com/nugget/agentcore-local/internal/chat"
	"github.com/nugget/agentcore-local/internal/config"
	"github.com/nugget/agentcore-local/internal/connwatch"
	"github.com/nugget/agentcore-local/internal/conversation"
	"github.com/nugget/agentcore-local/internal/events"
	"github.com/nugget/agentcore-local/internal/llm"
	"github.com/nugget/agentcore-local/internal/metrics"
	"github.com/nugget/agentcore-local/internal/mqtt"
	"github.com/nugget/agentcore-local/internal/tools"
)

// loadConfig loads and validates the configuration.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfg, path, err := config.LoadOrDefault(explicit)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

// app holds the process-wide components shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	bus     *events.Bus
	metrics *metrics.Metrics
	ollama  *llm.OllamaClient
	agent   *agent.Agent
	invoker *agent.Invoker
}

// newApp builds the model client, tools, agent and worker pool.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	rt := &app{
		cfg:     cfg,
		logger:  logger,
		bus:     events.New(),
		metrics: metrics.New(),
	}

	systemPrompt := cfg.Agent.SystemPrompt
	if cfg.Agent.SystemPromptFile != "" {
		data, err := os.ReadFile(cfg.Agent.SystemPromptFile)
		if err != nil {
			return nil, fmt.Errorf("read system prompt: %w", err)
		}
		systemPrompt = strings.TrimSpace(string(data))
	}

	loc := time.Local
	if cfg.Agent.Timezone != "" {
		loc, _ = time.LoadLocation(cfg.Agent.Timezone) // validated
	}
	registry := tools.NewRegistry()
	tools.RegisterCurrentTime(registry, loc, time.Now)

	rt.ollama = llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	rt.agent = agent.New(agent.Config{
		Client:        rt.ollama,
		Model:         cfg.Models.Default,
		Tools:         registry,
		SystemPrompt:  systemPrompt,
		MaxIterations: cfg.Agent.MaxIterations,
		Logger:        logger,
		Bus:           rt.bus,
		Metrics:       rt.metrics,
	})
	rt.invoker = agent.NewInvoker(rt.agent, cfg.Agent.Workers, logger,
		agent.WithTimeout(cfg.Agent.Timeout()),
		agent.WithMetrics(rt.metrics),
	)

	logger.Info("agent ready",
		"model", cfg.Models.Default,
		"ollama", rt.ollama.BaseURL(),
		"tools", registry.Names(),
		"workers", rt.invoker.Workers(),
	)
	return rt, nil
}

// watchModel probes Ollama in the background and mirrors its state to
// metrics and the event bus.
func (rt *app) watchModel(ctx context.Context) *connwatch.Watcher {
	url := rt.ollama.BaseURL()
	return connwatch.Start(ctx, connwatch.Config{
		Name:  "ollama",
		Probe: rt.ollama.Ping,
		OnUp: func() {
			rt.metrics.SetModelUp(true)
			rt.bus.Emit(events.SourceModel, events.KindBackendUp, map[string]any{"url": url})
		},
		OnDown: func(err error) {
			rt.metrics.SetModelUp(false)
			rt.bus.Emit(events.SourceModel, events.KindBackendDown, map[string]any{"url": url, "error": err.Error()})
		},
		Logger: rt.logger,
	})
}

// startMQTT starts the optional event publisher. It returns nil when no
// broker is configured.
func (rt *app) startMQTT(ctx context.Context) (*mqtt.Publisher, error) {
	if !rt.cfg.MQTT.Configured() {
		rt.logger.Info("mqtt publishing disabled (not configured)")
		return nil, nil
	}
	instanceID, err := mqtt.LoadOrCreateInstanceID(rt.cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load mqtt instance id: %w", err)
	}
	pub := mqtt.New(rt.cfg.MQTT, mqtt.ClientID(rt.cfg.MQTT.ClientID, instanceID), rt.bus, rt.logger)
	go func() {
		if err := pub.Start(ctx); err != nil {
			rt.logger.Error("mqtt publisher failed", "error", err)
		}
	}()
	rt.logger.Info("mqtt publishing enabled", "broker", rt.cfg.MQTT.Broker, "prefix", rt.cfg.MQTT.TopicPrefix)
	return pub, nil
}

func (rt *app) newAGUIServer() *agui.Server {
	return agui.NewServer(agui.Config{
		Address:   rt.cfg.AGUI.Address,
		Port:      rt.cfg.AGUI.Port,
		AgentPath: rt.cfg.AGUI.AgentPath,
		Model:     rt.cfg.Models.Default,
	}, rt.invoker, rt.logger, agui.WithBus(rt.bus), agui.WithMetrics(rt.metrics))
}

// server is what serveUntilDone runs.
type server interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// serveUntilDone runs servers until ctx is cancelled or one fails, then
// shuts all of them down within timeout.
func serveUntilDone(ctx context.Context, logger *slog.Logger, timeout time.Duration, servers ...server) error {
	errCh := make(chan error, len(servers))
	for _, s := range servers {
		go func() {
			if err := s.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		logger.Error("server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown incomplete", "error", err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("server failed: %w", runErr)
	}
	return nil
}

// setup loads config and builds the logger. The returned closer flushes
// the log file, if any.
func setup(stdout io.Writer, configPath string) (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer, err := config.NewLogger(stdout, cfg.Logging)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfgPath == "" {
		cfgPath = "(defaults)"
	}
	logger.Info("starting AgentCore",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"config", cfgPath,
	)
	return cfg, logger, closer, nil
}

// runServe starts the conversation API and, when enabled, the AG-UI
// server, and blocks until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout, _ io.Writer, configPath string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, logger, closer, err := setup(stdout, configPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	store, err := conversation.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer store.Close()
	logger.Info("conversation store opened", "path", cfg.DBPath)

	rt, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	watcher := rt.watchModel(ctx)
	defer watcher.Stop()

	pub, err := rt.startMQTT(ctx)
	if err != nil {
		return err
	}
	if pub != nil {
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer stopCancel()
			if err := pub.Stop(stopCtx); err != nil {
				logger.Warn("mqtt shutdown failed", "error", err)
			}
		}()
	}

	svc := chat.NewService(store, rt.invoker,
		chat.WithBus(rt.bus),
		chat.WithMetrics(rt.metrics),
		chat.WithLogger(logger),
	)
	if st, err := svc.Stats(ctx); err == nil {
		rt.metrics.UpdateStoreStats(st.Conversations, st.Messages)
		logger.Info("conversations loaded", "conversations", st.Conversations, "messages", st.Messages)
	}

	servers := []server{api.NewServer(api.Config{
		Address:        cfg.Listen.Address,
		Port:           cfg.Listen.Port,
		Model:          cfg.Models.Default,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, svc, logger,
		api.WithBus(rt.bus),
		api.WithMetrics(rt.metrics),
		api.WithDependency(watcher),
	)}
	if cfg.AGUI.Enabled {
		servers = append(servers, rt.newAGUIServer())
	}

	err = serveUntilDone(ctx, logger, time.Duration(cfg.Shutdown.TimeoutSec)*time.Second, servers...)
	logger.Info("AgentCore stopped")
	return err
}

// runAGUI serves only the AG-UI surface. No conversation store is
// opened.
func runAGUI(ctx context.Context, stdout, _ io.Writer, configPath string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, logger, closer, err := setup(stdout, configPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	rt, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	watcher := rt.watchModel(ctx)
	defer watcher.Stop()

	err = serveUntilDone(ctx, logger, time.Duration(cfg.Shutdown.TimeoutSec)*time.Second, rt.newAGUIServer())
	logger.Info("AgentCore stopped")
	return err
}

// runAsk sends one question to the agent and prints the answer. Logs
// go to stderr so stdout carries only the answer.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath string, args []string) error {
	cfg, logger, closer, err := setup(stderr, configPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	rt, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	answer, err := rt.invoker.Invoke(ctx, strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(stdout, answer)
	return nil
}
