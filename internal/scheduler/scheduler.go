// Package scheduler drives recurring scans over the active accounts.
// Accounts opt in through the scheduled_scans metadata flag.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/avelinecloud/compliancemgr/internal/errors"
	"github.com/avelinecloud/compliancemgr/internal/logger"
	"github.com/avelinecloud/compliancemgr/internal/service"
)

// Scheduler owns the cron runner.
type Scheduler struct {
	cron    *cron.Cron
	service *service.Service
	log     logger.Logger
}

// New creates a Scheduler
func New(svc *service.Service) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		service: svc,
		log:     logger.New("scheduler"),
	}
}

// Start registers the scan job under the given cron schedule and starts
// the runner.
func (s *Scheduler) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.runScheduledScans(context.Background())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("scheduler started", logger.String("schedule", schedule))
	return nil
}

// Stop halts the runner and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runScheduledScans(ctx context.Context) {
	accounts, err := s.service.Store().ListActiveAccounts(ctx)
	if err != nil {
		s.log.Error("listing accounts for scheduled scan", logger.Error(err))
		return
	}

	for _, account := range accounts {
		optIn, _ := account.Metadata["scheduled_scans"].(bool)
		if !optIn {
			continue
		}

		result, err := s.service.StartScan(ctx, service.StartScanInput{
			AccountID:   account.ID,
			NonBlocking: true,
		})
		if err != nil {
			// A busy account keeps its in-flight scan; everything else
			// is worth surfacing.
			if errors.Is(err, errors.KindConflict) {
				s.log.Debug("skipping busy account", logger.Int64("account_id", account.ID))
				continue
			}
			s.log.Error("scheduled scan failed", logger.Int64("account_id", account.ID), logger.Error(err))
			continue
		}
		s.log.Info("scheduled scan completed",
			logger.Int64("account_id", account.ID),
			logger.String("scan_id", result.ScanID),
			logger.Int("fail", result.Summary.Fail))
	}
}
