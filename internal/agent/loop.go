// Package agent runs the autonomous loop that drains the event store.
//
// Each cycle claims one event, dispatches it by kind, persists the decision
// and marks the event terminal. Dispatch errors fail the event and the loop
// moves on.
package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"procureiq/internal/domain"
	"procureiq/internal/events"
	"procureiq/internal/logging"
	"procureiq/internal/matching"
	"procureiq/internal/metrics"
	"procureiq/internal/mode"
	"procureiq/internal/notify"
	"procureiq/internal/queue"
	"procureiq/internal/registry"
	"procureiq/internal/repo"
)

// Matcher is the matching pipeline as seen by the loop.
type Matcher interface {
	Match(ctx context.Context, raw string, facts matching.Facts) domain.MatchResult
}

type Thresholds struct {
	AutoApprove int
	Review      int
}

// Schedule holds the housekeeping intervals. Zero disables a task.
type Schedule struct {
	RecoveryInterval  time.Duration
	StaleAfter        time.Duration
	HeartbeatInterval time.Duration
	ScanInterval      time.Duration
}

type Loop struct {
	Queue      queue.Store
	Repo       repo.Repo
	Registry   registry.Registry
	Matcher    Matcher
	Mode       *mode.Controller
	Notifier   *notify.Dispatcher
	Events     events.Writer
	Thresholds Thresholds
	// Recipient receives review, escalation and stock notifications.
	Recipient string
	Backoff   Backoff
	Schedule  Schedule
	WorkerID  string
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time

	cycles        int64
	lastRecovery  time.Time
	lastHeartbeat time.Time
	lastScan      time.Time
}

func (l *Loop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Loop) log() *zap.Logger {
	return logging.OrNop(l.Logger).Named("agent")
}

// Run cycles until ctx is cancelled. Housekeeping runs between cycles.
func (l *Loop) Run(ctx context.Context) error {
	log := l.log()
	log.Info("agent_started",
		zap.String("worker_id", l.WorkerID),
		zap.Duration("poll_floor", l.Backoff.Floor),
		zap.Duration("poll_ceiling", l.Backoff.Ceiling))
	l.heartbeat(ctx, "running")
	for {
		if ctx.Err() != nil {
			l.heartbeat(context.Background(), "stopped")
			log.Info("agent_stopped", zap.Int64("cycles", l.cycles))
			return nil
		}
		l.Housekeeping(ctx)

		processed, err := l.Cycle(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error("agent_cycle_failed", zap.Error(err))
		}
		if processed {
			l.Backoff.Reset()
			continue
		}
		wait := l.Backoff.Next()
		l.Metrics.PollInterval(wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Cycle claims and handles at most one event. processed is false when the
// queue was empty or the claim failed.
func (l *Loop) Cycle(ctx context.Context) (bool, error) {
	evt, ok, err := l.Queue.ClaimNext(ctx)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if !ok {
		return false, nil
	}
	l.cycles++
	log := l.log().With(zap.Int64("event_id", evt.ID), zap.String("kind", string(evt.Kind)), zap.Int("attempts", evt.Attempts))

	outcome, derr := l.dispatch(ctx, evt)
	if derr != nil {
		log.Warn("event_failed", zap.Error(derr))
		l.Metrics.EventProcessed(string(evt.Kind), string(domain.EventFailed))
		if err := l.Queue.Fail(ctx, evt.ID, derr); err != nil {
			l.finishFailed(ctx, evt, err)
		}
		return true, nil
	}
	if err := l.Queue.Complete(ctx, evt.ID, outcome); err != nil {
		l.finishFailed(ctx, evt, err)
		return true, nil
	}
	l.Metrics.EventProcessed(string(evt.Kind), string(domain.EventDone))
	log.Debug("event_done")
	return true, nil
}

func (l *Loop) dispatch(ctx context.Context, evt domain.Event) (outcome any, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log().Error("dispatch_panic", zap.Int64("event_id", evt.ID), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	switch evt.Kind {
	case domain.EventInvoiceReceived:
		return l.handleInvoice(ctx, evt)
	case domain.EventStockAlert:
		return l.handleStock(ctx, evt)
	case domain.EventDecisionRecorded:
		return l.handleDecision(ctx, evt)
	default:
		return nil, fmt.Errorf("unsupported event kind %q", evt.Kind)
	}
}

// finishFailed reports a failure to mark an event terminal. A terminal
// state violation is audited; a lost claim belongs to whichever worker
// reclaimed the event and is only logged.
func (l *Loop) finishFailed(ctx context.Context, evt domain.Event, err error) {
	if errors.Is(err, queue.ErrClaimLost) {
		l.log().Warn("claim_lost", zap.Int64("event_id", evt.ID), zap.Error(err))
		return
	}
	var tse queue.TerminalStateError
	if !errors.As(err, &tse) {
		l.log().Error("event_finish_failed", zap.Int64("event_id", evt.ID), zap.Error(err))
		return
	}
	l.log().Error("terminal_state_violation", zap.Int64("event_id", evt.ID), zap.String("status", string(tse.Status)))
	tx, txErr := l.Repo.DB.BeginTx(ctx, nil)
	if txErr != nil {
		return
	}
	defer tx.Rollback()
	if aerr := l.Events.Append(ctx, tx, events.TypeTerminalViolation, "event", events.ID(evt.ID), l.WorkerID, events.Payload{
		"status": tse.Status,
		"kind":   evt.Kind,
	}); aerr == nil {
		_ = tx.Commit()
	}
}

// Housekeeping runs whichever of recovery, heartbeat and inventory scan
// are due.
func (l *Loop) Housekeeping(ctx context.Context) {
	now := l.now()
	if s := l.Schedule; s.RecoveryInterval > 0 && now.Sub(l.lastRecovery) >= s.RecoveryInterval {
		l.lastRecovery = now
		if _, err := l.RecoverStale(ctx); err != nil {
			l.log().Error("recovery_sweep_failed", zap.Error(err))
		}
	}
	if s := l.Schedule; s.HeartbeatInterval > 0 && now.Sub(l.lastHeartbeat) >= s.HeartbeatInterval {
		l.lastHeartbeat = now
		l.heartbeat(ctx, "running")
		if counts, err := l.Queue.CountByStatus(ctx); err == nil {
			depth := make(map[string]int, len(counts))
			for k, v := range counts {
				depth[string(k)] = v
			}
			l.Metrics.QueueDepth(depth)
		}
	}
	if s := l.Schedule; s.ScanInterval > 0 && now.Sub(l.lastScan) >= s.ScanInterval {
		l.lastScan = now
		if _, err := l.ScanInventory(ctx); err != nil {
			l.log().Error("inventory_scan_failed", zap.Error(err))
		}
	}
}

// RecoverStale returns events stuck in processing past StaleAfter to pending.
func (l *Loop) RecoverStale(ctx context.Context) ([]int64, error) {
	stale := l.Schedule.StaleAfter
	if stale <= 0 {
		return nil, nil
	}
	ids, err := l.Queue.RecoverStale(ctx, l.now().Add(-stale))
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	l.log().Warn("stale_events_requeued", zap.Int64s("event_ids", ids))
	tx, err := l.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return ids, err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if err := l.Events.Append(ctx, tx, events.TypeStaleClaimRequeued, "event", events.ID(id), l.WorkerID, events.Payload{
			"stale_after": stale.String(),
		}); err != nil {
			return ids, err
		}
	}
	return ids, tx.Commit()
}

func (l *Loop) heartbeat(ctx context.Context, status string) {
	if l.WorkerID == "" {
		return
	}
	if err := l.Repo.Heartbeat(ctx, l.WorkerID, status, l.cycles); err != nil {
		l.log().Warn("heartbeat_failed", zap.Error(err))
	}
}

func (l *Loop) notify(s notify.Summary) {
	if l.Notifier == nil {
		return
	}
	l.Notifier.Send(l.Recipient, s)
}
