// Command callcore-agent is a headless call endpoint: it signs in to the
// signaling server, answers incoming calls (or places one with -call), and
// records every finished call through the configured log sinks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/logging"

	"github.com/communehq/callcore/internal/auth"
	"github.com/communehq/callcore/internal/call"
	"github.com/communehq/callcore/internal/calllog"
	"github.com/communehq/callcore/internal/config"
	"github.com/communehq/callcore/internal/media"
	"github.com/communehq/callcore/internal/metrics"
	"github.com/communehq/callcore/internal/signaling"
)

const dialTimeout = 15 * time.Second

func main() {
	var (
		callUserID     = flag.String("call", "", "place a call to this user ID on startup")
		video          = flag.Bool("video", false, "place a video call (with -call)")
		conversationID = flag.String("conversation", "", "conversation to attach the call log to (with -call)")
		autoAnswer     = flag.Bool("auto-answer", true, "answer incoming calls automatically")
		showHistory    = flag.Int("history", 0, "print the N most recent calls from local history and exit")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	if *showHistory > 0 {
		if err := printHistory(cfg, *showHistory); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, logger, *callUserID, *video, *conversationID, *autoAnswer); err != nil {
		logger.Error("agent exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger, callUserID string, video bool, conversationID string, autoAnswer bool) error {
	iceServers, err := cfg.ICEServers()
	if err != nil {
		return err
	}

	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelWarn
	factory := &media.PionFactory{
		API:        media.NewAPI(lf),
		ICEServers: iceServers,
	}

	m := metrics.New()

	var history *calllog.History
	if cfg.HistoryPath != "" {
		history, err = calllog.OpenHistory(cfg.HistoryPath)
		if err != nil {
			return err
		}
		defer history.Close()
	}
	var writer calllog.Writer
	if cfg.MessagingURL != "" {
		writer = &calllog.HTTPWriter{URL: cfg.MessagingURL, AuthToken: cfg.MessagingToken}
	}
	reconciler := calllog.NewReconciler(writer, history, m, logger)

	provider, err := auth.NewProvider(cfg.AuthMode, cfg.APIKey, cfg.JWTSecret, cfg.UserID)
	if err != nil {
		return err
	}
	credential, err := provider.Credential()
	if err != nil {
		return err
	}
	clientCfg := signaling.ClientConfig{
		URL:                  cfg.SignalingURL,
		PingInterval:         cfg.PingInterval,
		IdleTimeout:          cfg.IdleTimeout,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		Logger:               logger,
	}
	switch cfg.AuthMode {
	case auth.ModeAPIKey:
		clientCfg.APIKey = credential
	case auth.ModeJWT:
		clientCfg.Token = credential
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	client, err := signaling.Dial(dialCtx, clientCfg)
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()

	logger.Info("signed in to signaling",
		"url", cfg.SignalingURL,
		"user_id", cfg.UserID,
		"auth_mode", cfg.AuthMode,
		"ice_servers", len(iceServers),
	)

	sink := &consoleSink{log: logger, autoAnswer: autoAnswer}
	manager := call.NewManager(call.ManagerConfig{
		Local: signaling.Party{
			UserID:      cfg.UserID,
			DisplayName: cfg.DisplayName,
			Avatar:      cfg.Avatar,
		},
		RingTimeout:    cfg.RingTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
	}, factory, sink, reconciler, m, logger)
	manager.Attach(client)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.PrometheusHandler(m))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", "err", err)
			}
		}()
		logger.Info("metrics endpoint enabled", "addr", cfg.MetricsAddr)
	}

	if callUserID != "" {
		s, err := manager.StartCall(context.Background(), callUserID, video, conversationID)
		if err != nil {
			return fmt.Errorf("place call to %s: %w", callUserID, err)
		}
		logger.Info("placed call", "call_id", s.ID(), "callee", callUserID, "video", video)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-client.Done():
		logger.Warn("signaling connection closed")
	}

	if err := manager.Close(); err != nil && !errors.Is(err, call.ErrInvalidTransition) {
		logger.Warn("hang up on shutdown", "err", err)
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "err", err)
		}
	}
	return nil
}

func printHistory(cfg config.Config, limit int) error {
	if cfg.HistoryPath == "" {
		return fmt.Errorf("CALLCORE_HISTORY_PATH must be set to use -history")
	}
	history, err := calllog.OpenHistory(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer history.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	records, err := history.Recent(ctx, limit)
	if err != nil {
		return err
	}
	for _, rec := range records {
		kind := "voice"
		if rec.IsVideo {
			kind = "video"
		}
		fmt.Printf("%s  %-8s %-8s %-5s %-10s %s\n",
			rec.StartedAt.Format(time.RFC3339),
			rec.Direction,
			rec.Status,
			kind,
			rec.PeerID,
			calllog.FormatDuration(rec.DurationSecs),
		)
	}
	return nil
}

// consoleSink narrates call lifecycle events to the log and optionally
// answers incoming calls.
type consoleSink struct {
	log        *slog.Logger
	autoAnswer bool
}

func (c *consoleSink) CallRinging(s *call.Session) {
	c.log.Info("ringing", "call_id", s.ID(), "peer", s.Peer().UserID)
}

func (c *consoleSink) CallIncoming(s *call.Session) {
	c.log.Info("incoming call", "call_id", s.ID(), "from", s.Peer().UserID, "video", s.IsVideo())
	if !c.autoAnswer {
		return
	}
	// Answering opens capture devices; keep it off the dispatch goroutine.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		if err := s.Answer(ctx); err != nil {
			c.log.Warn("auto-answer failed", "call_id", s.ID(), "err", err)
		}
	}()
}

func (c *consoleSink) CallAccepted(s *call.Session) {
	c.log.Info("peer accepted, negotiating", "call_id", s.ID())
}

func (c *consoleSink) CallConnected(s *call.Session) {
	c.log.Info("connected", "call_id", s.ID(), "peer", s.Peer().UserID)
}

func (c *consoleSink) CallEnded(s *call.Session, rec calllog.Record) {
	c.log.Info("call finished",
		"call_id", rec.CallID,
		"status", rec.Status,
		"duration", calllog.FormatDuration(rec.DurationSecs),
	)
}

func (c *consoleSink) CallFailed(s *call.Session, err error) {
	c.log.Error("call failed", "call_id", s.ID(), "err", err)
}
