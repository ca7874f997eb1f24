// Command loopback runs both parties of a call in one process: two call
// managers wired through the in-memory signaling relay, each with a real
// pion transport and synthetic capture. Useful for exercising the full
// negotiate-connect-hangup path without a signaling server or network peers.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/pion/logging"

	"github.com/communehq/callcore/internal/call"
	"github.com/communehq/callcore/internal/calllog"
	"github.com/communehq/callcore/internal/media"
	"github.com/communehq/callcore/internal/metrics"
	"github.com/communehq/callcore/internal/signaling"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	alice := signaling.Party{UserID: "alice", DisplayName: "Alice"}
	bob := signaling.Party{UserID: "bob", DisplayName: "Bob"}
	chA, chB := signaling.Loopback(alice, bob)
	defer chA.Close()
	defer chB.Close()

	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelError
	api := media.NewAPI(lf)

	connected := make(chan struct{}, 2)
	done := make(chan calllog.Record, 2)

	callerMgr := newManager(alice, &media.PionFactory{API: api}, logger.With("side", "caller"), connected, done, false)
	calleeMgr := newManager(bob, &media.PionFactory{API: api}, logger.With("side", "callee"), connected, done, true)
	callerMgr.Attach(chA)
	calleeMgr.Attach(chB)

	s, err := callerMgr.StartCall(context.Background(), "bob", false, "loopback-conv")
	if err != nil {
		logger.Error("start call", "err", err)
		os.Exit(1)
	}
	logger.Info("placed call", "call_id", s.ID())

	for i := 0; i < 2; i++ {
		select {
		case <-connected:
		case <-time.After(30 * time.Second):
			logger.Error("timed out waiting for media to connect")
			os.Exit(1)
		}
	}
	logger.Info("both sides connected, talking for 3s")
	time.Sleep(3 * time.Second)

	if err := s.End(); err != nil {
		logger.Error("hang up", "err", err)
		os.Exit(1)
	}
	for i := 0; i < 2; i++ {
		select {
		case rec := <-done:
			logger.Info("call record",
				"direction", rec.Direction,
				"status", rec.Status,
				"duration", calllog.FormatDuration(rec.DurationSecs),
			)
		case <-time.After(10 * time.Second):
			logger.Error("timed out waiting for call records")
			os.Exit(1)
		}
	}
}

func newManager(local signaling.Party, factory media.Factory, logger *slog.Logger, connected chan struct{}, done chan calllog.Record, autoAnswer bool) *call.Manager {
	m := metrics.New()
	rec := calllog.NewReconciler(nil, nil, m, logger)
	sink := &loopbackSink{log: logger, connected: connected, done: done, autoAnswer: autoAnswer}
	return call.NewManager(call.ManagerConfig{Local: local}, factory, sink, rec, m, logger)
}

type loopbackSink struct {
	log        *slog.Logger
	connected  chan struct{}
	done       chan calllog.Record
	autoAnswer bool
}

func (s *loopbackSink) CallRinging(*call.Session) {}

func (s *loopbackSink) CallIncoming(sess *call.Session) {
	if !s.autoAnswer {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sess.Answer(ctx); err != nil {
			s.log.Error("answer", "err", err)
		}
	}()
}

func (s *loopbackSink) CallAccepted(*call.Session) {}

func (s *loopbackSink) CallConnected(sess *call.Session) {
	s.log.Info("connected", "call_id", sess.ID())
	s.connected <- struct{}{}
}

func (s *loopbackSink) CallEnded(_ *call.Session, rec calllog.Record) {
	s.done <- rec
}

func (s *loopbackSink) CallFailed(_ *call.Session, err error) {
	s.log.Error("call failed", "err", err)
}
