package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/warp/meeting-engine/settlement"
)

// Operation applies one engine call to a single meeting.
type Operation func(ctx context.Context, id settlement.MeetingID) (Outcome, error)

// BulkFailure records why one id failed.
type BulkFailure struct {
	ID     settlement.MeetingID
	Err    error
	Reason string
}

// BulkResult aggregates a bulk run. Failures are listed in input order.
type BulkResult struct {
	Requested int
	Succeeded int
	Skipped   int
	Failed    []BulkFailure
}

// BulkRunner applies an Operation to many meetings. Each id runs in its own
// transaction, so one failure never rolls back the others. Meetings of the
// same cycle run one after another; different cycles run concurrently on up
// to Workers goroutines.
type BulkRunner struct {
	engine  *Engine
	workers int
	log     logrus.FieldLogger
}

func NewBulkRunner(engine *Engine, workers int) *BulkRunner {
	if workers < 1 {
		workers = 1
	}
	return &BulkRunner{engine: engine, workers: workers, log: engine.log}
}

type bulkItem struct {
	index int
	id    settlement.MeetingID
}

type bulkOutcome struct {
	outcome Outcome
	err     error
}

// Run deduplicates ids (first occurrence wins), groups them by cycle and
// applies op. An empty list is ErrInvalidInput.
func (r *BulkRunner) Run(ctx context.Context, ids []settlement.MeetingID, op Operation) (*BulkResult, error) {
	items := dedupe(ids)
	if len(items) == 0 {
		return nil, invalidInput("no meeting ids given")
	}

	results := make([]bulkOutcome, len(items))
	groups := make(map[settlement.CycleID][]bulkItem)
	var order []settlement.CycleID
	for _, it := range items {
		m, err := r.engine.store.GetMeeting(ctx, it.id)
		if err != nil {
			results[it.index] = bulkOutcome{err: err}
			continue
		}
		if _, ok := groups[m.CycleID]; !ok {
			order = append(order, m.CycleID)
		}
		groups[m.CycleID] = append(groups[m.CycleID], it)
	}

	queue := make(chan []bulkItem)
	var wg sync.WaitGroup
	for w := 0; w < r.workers && w < len(order); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range queue {
				for _, it := range group {
					results[it.index] = r.apply(ctx, it.id, op)
				}
			}
		}()
	}
	for _, cycleID := range order {
		queue <- groups[cycleID]
	}
	close(queue)
	wg.Wait()

	res := &BulkResult{Requested: len(items)}
	for i, out := range results {
		switch {
		case out.err != nil:
			res.Failed = append(res.Failed, BulkFailure{ID: items[i].id, Err: out.err, Reason: out.err.Error()})
		case out.outcome == OutcomeSkipped:
			res.Skipped++
		default:
			res.Succeeded++
		}
	}

	r.log.WithFields(logrus.Fields{
		"requested": res.Requested,
		"succeeded": res.Succeeded,
		"skipped":   res.Skipped,
		"failed":    len(res.Failed),
		"cycles":    len(order),
	}).Info("bulk run finished")
	return res, nil
}

func (r *BulkRunner) apply(ctx context.Context, id settlement.MeetingID, op Operation) (out bulkOutcome) {
	if err := ctx.Err(); err != nil {
		return bulkOutcome{err: err}
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.WithFields(logrus.Fields{"meeting_id": id, "panic": p}).Error("bulk operation panicked")
			out = bulkOutcome{err: fmt.Errorf("%w on %s: %v", ErrOperationPanicked, id, p)}
		}
	}()
	outcome, err := op(ctx, id)
	return bulkOutcome{outcome: outcome, err: err}
}

func dedupe(ids []settlement.MeetingID) []bulkItem {
	seen := make(map[settlement.MeetingID]bool, len(ids))
	items := make([]bulkItem, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		items = append(items, bulkItem{index: len(items), id: id})
	}
	return items
}

// =============================================================================
// CONVENIENCE WRAPPERS
// =============================================================================

// Complete completes every id.
func (r *BulkRunner) Complete(ctx context.Context, ids []settlement.MeetingID, actor string) (*BulkResult, error) {
	return r.Run(ctx, ids, func(ctx context.Context, id settlement.MeetingID) (Outcome, error) {
		if _, err := r.engine.Complete(ctx, id, actor); err != nil {
			return "", err
		}
		return OutcomeApplied, nil
	})
}

// Recalculate recalculates every id. Skips under the idempotence guard are
// counted, not failed.
func (r *BulkRunner) Recalculate(ctx context.Context, ids []settlement.MeetingID, force bool, actor string) (*BulkResult, error) {
	return r.Run(ctx, ids, func(ctx context.Context, id settlement.MeetingID) (Outcome, error) {
		res, err := r.engine.Recalculate(ctx, id, force, actor)
		if err != nil {
			return "", err
		}
		return res.Outcome, nil
	})
}

// UpdateStatus moves every id to target.
func (r *BulkRunner) UpdateStatus(ctx context.Context, ids []settlement.MeetingID, target settlement.MeetingStatus, opts UpdateOptions) (*BulkResult, error) {
	if !target.Valid() {
		return nil, invalidInput("unknown status %q", target)
	}
	return r.Run(ctx, ids, func(ctx context.Context, id settlement.MeetingID) (Outcome, error) {
		if _, err := r.engine.UpdateStatus(ctx, id, target, opts); err != nil {
			return "", err
		}
		return OutcomeApplied, nil
	})
}

// Delete soft-deletes every id.
func (r *BulkRunner) Delete(ctx context.Context, ids []settlement.MeetingID, actor string) (*BulkResult, error) {
	return r.Run(ctx, ids, func(ctx context.Context, id settlement.MeetingID) (Outcome, error) {
		if err := r.engine.Delete(ctx, id, actor); err != nil {
			return "", err
		}
		return OutcomeApplied, nil
	})
}
