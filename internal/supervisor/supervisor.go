// Package supervisor splits a run across worker processes and waits for all
// of them.
package supervisor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/crankloop/internal/schedule"
	"github.com/torosent/crankloop/internal/worker"
)

// Spawner runs one worker to completion.
type Spawner interface {
	Spawn(ctx context.Context, p worker.Params) error
}

// Supervisor starts one worker per concurrency slice.
type Supervisor struct {
	spawner Spawner
	logger  *zap.Logger
}

func New(spawner Spawner, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{spawner: spawner, logger: logger}
}

// Plan splits run into processes parameter sets, one per worker, with
// consecutive lane ranges covering the whole run.
func Plan(run worker.Params, processes int) ([]worker.Params, error) {
	shares, err := schedule.Slice(run.TotalConcurrency, processes)
	if err != nil {
		return nil, err
	}
	offsets := schedule.Offsets(shares)
	plans := make([]worker.Params, len(shares))
	for i, share := range shares {
		plans[i] = run.ForSlice(i, share, offsets[i])
	}
	return plans, nil
}

// Run starts every worker and waits for all of them, even after one fails.
// The returned error joins every worker's error.
func (s *Supervisor) Run(ctx context.Context, run worker.Params, processes int) error {
	plans, err := Plan(run, processes)
	if err != nil {
		return err
	}
	s.logger.Info("starting workers",
		zap.String("run_id", run.RunID),
		zap.Int("workers", len(plans)),
		zap.Int("concurrency", run.TotalConcurrency),
	)

	errs := make([]error, len(plans))
	var g errgroup.Group
	for i, p := range plans {
		g.Go(func() error {
			s.logger.Debug("worker starting",
				zap.Int("worker", p.Worker),
				zap.Int("lanes", p.Concurrency),
				zap.Int("lane_offset", p.LaneOffset),
				zap.String("report", p.ReportPath),
			)
			if err := s.spawner.Spawn(ctx, p); err != nil {
				s.logger.Error("worker failed", zap.Int("worker", p.Worker), zap.Error(err))
				errs[i] = fmt.Errorf("worker %d: %w", p.Worker, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	err = errors.Join(errs...)
	if err == nil {
		s.logger.Info("all workers finished", zap.String("run_id", run.RunID))
	}
	return err
}
