package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tideclaw/tideclaw/internal/bus"
	"github.com/tideclaw/tideclaw/internal/config"
	"github.com/tideclaw/tideclaw/internal/tools"
)

const heartbeatPrompt = "Heartbeat: review pending work. Check on running subagents and anything you promised to follow up on. If nothing needs attention, reply with a brief acknowledgement."

// Publisher is the bus surface the scheduler needs.
type Publisher interface {
	PublishInbound(msg *bus.InboundMessage)
}

// Scheduler evaluates persisted cron jobs on a fixed tick and injects
// synthetic inbound messages for due ones. A fixed-interval heartbeat
// rides the same tick.
type Scheduler struct {
	cfg    config.SchedulerConfig
	store  *Store
	bus    Publisher
	logger *slog.Logger

	now           func() time.Time
	nextHeartbeat time.Time
	started       bool
}

// New creates a Scheduler.
func New(cfg config.SchedulerConfig, store *Store, publisher Publisher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	return &Scheduler{
		cfg:    cfg,
		store:  store,
		bus:    publisher,
		logger: logger,
		now:    time.Now,
	}
}

// Store exposes the job store for the management surface.
func (s *Scheduler) Store() *Store { return s.store }

// Run starts the tick loop and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "tick", s.cfg.TickInterval,
		"heartbeat", s.cfg.Heartbeat.Enabled, "skip_missed", s.cfg.SkipMissedRuns)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates due jobs once. Exposed for the heartbeat path and tests;
// Run calls it on every ticker fire.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	s.tickHeartbeat(now)

	due, err := s.store.Due(ctx, now)
	if err != nil {
		s.logger.Error("scheduler: querying due jobs failed", "error", err)
		return
	}
	for _, job := range due {
		s.fire(ctx, job, now)
	}
}

// fire publishes one job and advances its due time. A job whose due time
// fell during downtime fires exactly once by default; with SkipMissedRuns
// it skips forward to the next future occurrence silently.
func (s *Scheduler) fire(ctx context.Context, job CronJob, now time.Time) {
	sched, err := ParseSchedule(job.ScheduleExpr)
	if err != nil {
		// Unparseable persisted schedule: disable rather than retry forever.
		s.logger.Error("scheduler: disabling job with bad schedule", "job", job.ID, "error", err)
		s.store.SetEnabled(ctx, job.ID, false)
		return
	}
	nextDue := sched.Advance(job.NextDue, now)

	missed := now.Sub(job.NextDue) > s.cfg.TickInterval+time.Minute
	if missed && s.cfg.SkipMissedRuns {
		if err := s.store.Reschedule(ctx, job.ID, nextDue); err != nil {
			s.logger.Error("scheduler: reschedule failed", "job", job.ID, "error", err)
		}
		s.logger.Info("scheduler: skipped missed run", "job", job.Name, "next_due", nextDue)
		return
	}

	channel, chatID := job.Channel, job.ChatID
	if channel == "" {
		channel = s.cfg.DefaultChannel
	}
	if chatID == "" {
		chatID = s.cfg.DefaultChatID
	}

	s.bus.PublishInbound(&bus.InboundMessage{
		Channel:        channel,
		ChatID:         chatID,
		SenderID:       "cron",
		Content:        job.Payload,
		IdempotencyKey: fmt.Sprintf("cron:%s:%d", job.ID, job.NextDue.Unix()),
		Metadata: map[string]any{
			bus.MetaKeyMessageType: bus.MessageTypeInternal,
			"cron_job_id":          job.ID,
			"cron_job_name":        job.Name,
		},
		Timestamp: now,
	})
	if err := s.store.MarkFired(ctx, job.ID, now, nextDue); err != nil {
		s.logger.Error("scheduler: mark fired failed", "job", job.ID, "error", err)
		return
	}
	s.logger.Info("scheduler: fired job", "job", job.Name, "next_due", nextDue)
}

func (s *Scheduler) tickHeartbeat(now time.Time) {
	if !s.cfg.Heartbeat.Enabled || s.cfg.Heartbeat.Interval <= 0 {
		return
	}
	if !s.started {
		s.started = true
		s.nextHeartbeat = now.Add(s.cfg.Heartbeat.Interval)
		return
	}
	if now.Before(s.nextHeartbeat) {
		return
	}
	s.bus.PublishInbound(&bus.InboundMessage{
		Channel:        s.cfg.DefaultChannel,
		ChatID:         s.cfg.DefaultChatID,
		SenderID:       "heartbeat",
		Content:        heartbeatPrompt,
		IdempotencyKey: fmt.Sprintf("heartbeat:%d", s.nextHeartbeat.Unix()),
		Metadata: map[string]any{
			bus.MetaKeyMessageType: bus.MessageTypeInternal,
			"heartbeat":            true,
		},
		Timestamp: now,
	})
	// Advance from the scheduled time, drift-free, same as interval jobs.
	next := s.nextHeartbeat.Add(s.cfg.Heartbeat.Interval)
	for !next.After(now) {
		next = next.Add(s.cfg.Heartbeat.Interval)
	}
	s.nextHeartbeat = next
	s.logger.Debug("scheduler: heartbeat fired", "next", s.nextHeartbeat)
}

// AddJob registers a new persisted job addressed to the default session.
// Implements the cron management surface used by the cron tool and CLI.
func (s *Scheduler) AddJob(name, payload, schedule string) (string, error) {
	return s.store.Add(context.Background(), CronJob{
		Name:         name,
		Payload:      payload,
		ScheduleExpr: schedule,
	}, s.now())
}

// ListJobs returns all persisted jobs as tool views.
func (s *Scheduler) ListJobs() ([]tools.CronJobView, error) {
	jobs, err := s.store.List(context.Background())
	if err != nil {
		return nil, err
	}
	views := make([]tools.CronJobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, tools.CronJobView{
			ID:        j.ID,
			Name:      j.Name,
			Schedule:  j.ScheduleExpr,
			Payload:   j.Payload,
			Enabled:   j.Enabled,
			NextDue:   j.NextDue,
			LastFired: j.LastFired,
		})
	}
	return views, nil
}

// RemoveJob deletes a persisted job.
func (s *Scheduler) RemoveJob(id string) (bool, error) {
	return s.store.Remove(context.Background(), id)
}
