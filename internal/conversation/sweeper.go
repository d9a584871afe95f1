package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = time.Minute

// Sweeper periodically resolves stale open conversations so inactive contacts
// do not hold their active slot forever.
type Sweeper struct {
	service   *Service
	cron      *cron.Cron
	companyID string
	ttl       time.Duration
	logger    *slog.Logger
}

// NewSweeper creates a sweeper. ttl <= 0 disables it.
func NewSweeper(log *slog.Logger, service *Service, companyID string, ttl time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		service:   service,
		cron:      cron.New(),
		companyID: companyID,
		ttl:       ttl,
		logger:    log.With(slog.String("component", "sweeper")),
	}
}

// Start schedules the hourly sweep.
func (s *Sweeper) Start() error {
	if s.ttl <= 0 {
		s.logger.Info("stale-conversation sweep disabled")
		return nil
	}
	if _, err := s.cron.AddFunc("@hourly", s.run); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	resolved, err := s.service.ResolveStale(ctx, s.companyID, s.ttl)
	if err != nil {
		s.logger.Error("stale sweep failed", slog.Any("error", err))
		return
	}
	if resolved > 0 {
		s.logger.Info("stale conversations resolved", slog.Int64("count", resolved))
	}
}
