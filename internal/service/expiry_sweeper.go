package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"cardvault/internal/repository"
)

const sweepTimeout = time.Minute

// ExpirySweeper periodically stores EXPIRED on cards past their expiry date.
// Reads and transfers never depend on it; it only keeps stored statuses and
// status-filtered listings close to the truth.
type ExpirySweeper struct {
	cardRepo  repository.CardRepository
	lifecycle *CardLifecycle
	logger    *zap.Logger
	cron      *cron.Cron
}

// NewExpirySweeper schedules a sweep using a standard cron expression or a
// descriptor such as "@daily".
func NewExpirySweeper(
	cardRepo repository.CardRepository,
	lifecycle *CardLifecycle,
	schedule string,
	logger *zap.Logger,
) (*ExpirySweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ExpirySweeper{
		cardRepo:  cardRepo,
		lifecycle: lifecycle,
		logger:    logger,
		cron:      cron.New(cron.WithLocation(time.UTC)),
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("parse expiry sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Sweep reconciles every card once and returns how many were updated.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int64, error) {
	return s.cardRepo.MarkExpired(ctx, s.lifecycle.Today())
}

func (s *ExpirySweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	n, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
		return
	}
	s.logger.Info("expiry sweep finished", zap.Int64("cards_expired", n))
}

// Start runs the schedule in the background.
func (s *ExpirySweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep or ctx, whichever
// finishes first.
func (s *ExpirySweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
