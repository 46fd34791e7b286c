package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/PratikDhanave/incident-bot/internal/chat"
	"github.com/PratikDhanave/incident-bot/internal/config"
	"github.com/PratikDhanave/incident-bot/internal/coordination"
	"github.com/PratikDhanave/incident-bot/internal/dedup"
	"github.com/PratikDhanave/incident-bot/internal/fingerprint"
	"github.com/PratikDhanave/incident-bot/internal/handlers"
	"github.com/PratikDhanave/incident-bot/internal/httpserver"
	"github.com/PratikDhanave/incident-bot/internal/incident"
	"github.com/PratikDhanave/incident-bot/internal/llm"
	"github.com/PratikDhanave/incident-bot/internal/probe"
	"github.com/PratikDhanave/incident-bot/internal/store"
	"github.com/PratikDhanave/incident-bot/internal/tracker"
)

const shutdownTimeout = 30 * time.Second

// main boots the service: config → logger → store → clients → pipeline → HTTP server.
func main() {
	if err := run(); err != nil {
		slog.Error("incident bot stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load runtime config from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The coordination store is best effort: if it cannot be opened the bot
	// still runs, uncoordinated, and says so.
	st, err := store.Open(ctx, cfg.CoordStoreDSN)
	if err != nil {
		log.Warn("coordination store unavailable, running without coordination", "error", err)
		st = store.UnreachableStore{Reason: err}
	}
	defer st.Close()

	coord := coordination.NewClient(st,
		coordination.WithPolicy(coordination.Policy{LockFailClosed: cfg.LockFailClosed}),
		coordination.WithInstanceID(cfg.InstanceID),
		coordination.WithEventTTL(cfg.EventTTL),
		coordination.WithLockTTL(cfg.LockTTL),
		coordination.WithCallTimeout(cfg.CallTimeout),
		coordination.WithLogger(log),
	)

	slackClient, err := chat.NewSlackClient(ctx, chat.SlackOptions{
		Token:       cfg.SlackBotToken,
		CallTimeout: cfg.CallTimeout,
		Logger:      log,
	})
	if err != nil {
		return errors.Wrap(err, "connect to slack")
	}

	deriver, err := fingerprint.NewDeriver(cfg.TicketPattern)
	if err != nil {
		return err
	}

	jira := tracker.NewClient(tracker.Options{
		Domain:       cfg.JiraDomain,
		Username:     cfg.JiraUsername,
		APIToken:     cfg.JiraAPIToken,
		SummaryField: cfg.JiraSummaryField,
		HTTPClient:   &http.Client{Timeout: cfg.CallTimeout},
	})

	pipeline, err := incident.NewPipeline(incident.Deps{
		Deriver: deriver,
		Cache:   dedup.NewCache(dedup.DefaultCapacity),
		Coord:   coord,
		Prober: probe.NewChannelProber(slackClient, incident.ChannelName, probe.ChannelProberOptions{
			Window: cfg.ProbeWindow,
			Logger: log,
		}),
		Chat:      slackClient,
		Tracker:   jira,
		Generator: newGenerator(cfg, log),
		Logger:    log,
	})
	if err != nil {
		return err
	}

	webhook := handlers.NewWebhookHandler(pipeline, handlers.WebhookOptions{Async: cfg.AsyncWebhook, Logger: log})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpserver.NewRouter(cfg, st, webhook),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server started", "addr", cfg.HTTPAddr, "instance", cfg.InstanceID, "store", storeKind(st))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	// Let in-flight events finish so their locks are released.
	webhook.Wait()
	return nil
}

func newGenerator(cfg config.Config, log *slog.Logger) llm.Generator {
	httpClient := &http.Client{Timeout: 2 * cfg.CallTimeout}
	var caller llm.ModelCaller
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		caller = llm.NewAnthropicClient(cfg.AnthropicAPIKey, "")
	default:
		caller = llm.NewGeminiClient(cfg.GeminiAPIKey, "", httpClient)
	}
	return llm.NewChain(caller, cfg.LLMModels, log)
}

func storeKind(st store.Store) string {
	switch st.(type) {
	case *store.MemoryStore:
		return "memory"
	case *store.PostgresStore:
		return "postgres"
	case *store.DynamoStore:
		return "dynamodb"
	case *store.RedisStore:
		return "redis"
	case store.UnreachableStore:
		return "unreachable"
	default:
		return "unknown"
	}
}
