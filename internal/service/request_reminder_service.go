package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/sis-request-api/internal/models"
	"github.com/noah-isme/sis-request-api/pkg/config"
)

type reminderStore interface {
	ListReminderCandidates(ctx context.Context) ([]models.ReminderCandidate, error)
	UpdateReminderState(ctx context.Context, id int64, daysPending int, remindedAt *time.Time) error
}

// ReminderReport summarises one reminder sweep.
type ReminderReport struct {
	Scanned  int
	Reminded int
	Failed   int
}

// RequestReminderService refreshes the pending age of in-progress requests and nudges
// approvers about stale ones. It never changes workflow state.
type RequestReminderService struct {
	store    reminderStore
	notifier Notifier
	metrics  *MetricsService
	cfg      config.ReminderConfig
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	scheduler *cron.Cron
}

// NewRequestReminderService constructs the reminder job.
func NewRequestReminderService(store reminderStore, notifier Notifier, metrics *MetricsService, cfg config.ReminderConfig, logger *zap.Logger) *RequestReminderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	if cfg.ThresholdDays <= 0 {
		cfg.ThresholdDays = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 24 * time.Hour
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "0 8 * * *"
	}
	return &RequestReminderService{store: store, notifier: notifier, metrics: metrics, cfg: cfg, logger: logger, now: time.Now}
}

// Start registers the sweep on its cron schedule. Disabled reminders are a no-op.
func (s *RequestReminderService) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		return nil
	}
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("request reminder sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule request reminders %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.scheduler = c
	s.logger.Info("request reminders scheduled", zap.String("schedule", s.cfg.Schedule), zap.Int("threshold_days", s.cfg.ThresholdDays))
	return nil
}

// Stop waits for a running sweep to finish.
func (s *RequestReminderService) Stop() {
	s.mu.Lock()
	c := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// DaysPending counts whole days since the later of submission and the last step action.
func DaysPending(submittedAt time.Time, lastActionAt *time.Time, now time.Time) int {
	since := submittedAt
	if lastActionAt != nil && lastActionAt.After(since) {
		since = *lastActionAt
	}
	if now.Before(since) {
		return 0
	}
	return int(now.Sub(since) / (24 * time.Hour))
}

func (s *RequestReminderService) due(c models.ReminderCandidate, days int, now time.Time) bool {
	if days < s.cfg.ThresholdDays {
		return false
	}
	return c.LastReminderAt == nil || now.Sub(*c.LastReminderAt) >= s.cfg.Cooldown
}

// RunOnce performs a single sweep.
func (s *RequestReminderService) RunOnce(ctx context.Context) (ReminderReport, error) {
	var report ReminderReport
	candidates, err := s.store.ListReminderCandidates(ctx)
	if err != nil {
		return report, err
	}
	now := s.now().UTC()
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		days := DaysPending(c.SubmittedAt, c.LastActionAt, now)

		var remindedAt *time.Time
		if s.due(c, days, now) {
			remindedAt = &now
		}
		if err := s.store.UpdateReminderState(ctx, c.ID, days, remindedAt); err != nil {
			report.Failed++
			s.logger.Warn("failed to update reminder state", zap.Int64("request_id", c.ID), zap.Error(err))
			continue
		}
		if remindedAt == nil {
			continue
		}

		payload := map[string]interface{}{
			"request_id":     c.ID,
			"status":         c.Status,
			"approver_role":  c.ApproverRole,
			"days_pending":   days,
			"reminder_count": c.ReminderCount + 1,
		}
		if c.RequestNumber != nil {
			payload["request_number"] = *c.RequestNumber
		}
		if err := s.notifier.Notify(ctx, RoleRecipient(string(c.ApproverRole)), NotificationRequestReminder, payload); err != nil {
			s.logger.Warn("failed to dispatch reminder", zap.Int64("request_id", c.ID), zap.Error(err))
		}
		s.metrics.RecordReminder()
		report.Reminded++
	}
	s.logger.Info("request reminder sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("reminded", report.Reminded),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}
