/*
scheduler.go - Periodic forecast refresh

PURPOSE:
  Recomputes the revenue forecast on a cron schedule and keeps the latest
  result in memory, so GET /api/forecast/latest answers without touching
  the database. The forecast is advisory; a failed refresh keeps the
  previous snapshot and is logged.

SCHEDULE:
  Any robfig/cron spec, including descriptors such as "@every 1h" or
  "@daily". The window runs from today through the end of the month
  HorizonMonths ahead.

USAGE:
  scheduler := NewForecastScheduler(forecaster, "@every 1h", 3, log)
  if err := scheduler.Start(); err != nil {
      log.Fatal(err)
  }
  defer scheduler.Stop()

SEE ALSO:
  - forecast/forecast.go: Forecaster
  - handlers.go: GetLatestForecast endpoint
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/warp/meeting-engine/forecast"
	"github.com/warp/meeting-engine/lifecycle"
	"github.com/warp/meeting-engine/settlement"
)

// Forecaster is the part of forecast.Forecaster the API uses.
type Forecaster interface {
	Forecast(ctx context.Context, w forecast.Window) (*forecast.Forecast, error)
}

// ForecastScheduler refreshes a cached forecast on a cron schedule.
type ForecastScheduler struct {
	forecaster    Forecaster
	spec          string
	horizonMonths int
	clock         lifecycle.Clock
	log           logrus.FieldLogger
	timeout       time.Duration

	cron *cron.Cron

	mu     sync.RWMutex
	latest *forecast.Forecast
	runs   int
}

func NewForecastScheduler(f Forecaster, spec string, horizonMonths int, log logrus.FieldLogger) *ForecastScheduler {
	if horizonMonths < 1 {
		horizonMonths = 1
	}
	return &ForecastScheduler{
		forecaster:    f,
		spec:          spec,
		horizonMonths: horizonMonths,
		clock:         lifecycle.SystemClock{},
		log:           log,
		timeout:       2 * time.Minute,
		cron:          cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start registers the job, computes a first snapshot and starts the cron
// loop. An invalid spec is returned as an error.
func (s *ForecastScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.RunNow); err != nil {
		return fmt.Errorf("invalid forecast schedule %q: %w", s.spec, err)
	}
	s.RunNow()
	s.cron.Start()
	s.log.WithField("schedule", s.spec).Info("forecast scheduler started")
	return nil
}

// Stop stops the cron loop and waits for a running refresh to finish.
func (s *ForecastScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("forecast scheduler stopped")
}

// RunNow refreshes the snapshot immediately.
func (s *ForecastScheduler) RunNow() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	w := s.window()
	started := time.Now()
	f, err := s.forecaster.Forecast(ctx, w)
	if err != nil {
		s.log.WithError(err).Error("forecast refresh failed")
		return
	}

	s.mu.Lock()
	s.latest = f
	s.runs++
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"from":     w.From.Format(dateLayout),
		"to":       w.To.Format(dateLayout),
		"meetings": len(f.Meetings),
		"profit":   f.TotalProfit.String(),
		"took":     time.Since(started).String(),
	}).Info("forecast refreshed")
}

// Latest returns the last successful snapshot, or nil before the first one.
func (s *ForecastScheduler) Latest() *forecast.Forecast {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Runs is the number of successful refreshes.
func (s *ForecastScheduler) Runs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs
}

// window spans today through the last day of the month horizonMonths ahead.
func (s *ForecastScheduler) window() forecast.Window {
	today := settlement.DateOnly(s.clock.Now())
	firstOfMonth := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := firstOfMonth.AddDate(0, s.horizonMonths+1, -1)
	return forecast.Window{From: today, To: end}
}
