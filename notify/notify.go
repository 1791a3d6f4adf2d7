/*
Package notify provides lifecycle.Notifier implementations.

  - Logger: writes every notification as a structured log entry
  - Async:  hands notifications to another notifier on a goroutine, so the
            engine never waits on delivery

Real delivery channels (email, messaging) plug in behind the same
interface. None of these return errors: a failed delivery is logged.
*/
package notify

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/warp/meeting-engine/lifecycle"
)

// =============================================================================
// LOGGER
// =============================================================================

type Logger struct {
	log logrus.FieldLogger
}

func NewLogger(log logrus.FieldLogger) *Logger {
	return &Logger{log: log}
}

func (l *Logger) Notify(_ context.Context, kind lifecycle.NotificationKind, p lifecycle.Notification) {
	entry := l.log.WithFields(logrus.Fields{
		"kind":          kind,
		"meeting_id":    p.MeetingID,
		"cycle_id":      p.CycleID,
		"instructor_id": p.InstructorID,
		"actor":         p.Actor,
	})
	if p.ChangeType != "" {
		entry = entry.WithField("change_type", p.ChangeType)
	}
	if p.Reason != "" {
		entry = entry.WithField("reason", p.Reason)
	}
	if p.Settlement != nil {
		entry = entry.WithFields(logrus.Fields{
			"revenue": p.Settlement.Revenue.String(),
			"payment": p.Settlement.InstructorPayment.String(),
			"profit":  p.Settlement.Profit.String(),
		})
	}

	if kind == lifecycle.NotifyNegativeProfit {
		entry.Warn("meeting settled at a loss")
		return
	}
	entry.Info("notification")
}

// =============================================================================
// ASYNC
// =============================================================================

// Async delivers on a separate goroutine. Panics in the wrapped notifier are
// recovered and logged. Wait blocks until in-flight deliveries finish.
type Async struct {
	next lifecycle.Notifier
	log  logrus.FieldLogger
	wg   sync.WaitGroup
}

func NewAsync(next lifecycle.Notifier, log logrus.FieldLogger) *Async {
	return &Async{next: next, log: log}
}

func (a *Async) Notify(ctx context.Context, kind lifecycle.NotificationKind, p lifecycle.Notification) {
	// The request context may be cancelled as soon as the handler returns.
	detached := context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.log.WithFields(logrus.Fields{
					"kind":       kind,
					"meeting_id": p.MeetingID,
					"panic":      r,
				}).Error("notification delivery failed")
			}
		}()
		a.next.Notify(detached, kind, p)
	}()
}

func (a *Async) Wait() {
	a.wg.Wait()
}
