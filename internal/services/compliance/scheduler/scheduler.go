package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/credwatch-go/internal/compliance/ports"
	"github.com/credwatch-go/internal/domain/credential"
	"github.com/credwatch-go/internal/domain/notification"
	"github.com/credwatch-go/internal/services/compliance/dispatcher"
	"github.com/credwatch-go/internal/services/compliance/evaluator"
	"github.com/credwatch-go/internal/services/compliance/policy"
	"github.com/credwatch-go/pkg/config"
	"github.com/credwatch-go/pkg/events"
	"github.com/credwatch-go/pkg/logger"
	"github.com/credwatch-go/pkg/metrics"
)

const leaderKey = "credwatch:scheduler:leader"

// errAllHandoffsFailed marks a cycle where reminders were due but no channel
// accepted any payload; it counts as a failure in the pass summary.
var errAllHandoffsFailed = errors.New("every reminder handoff failed")

// Scheduler sweeps all tracked credentials through
// evaluate -> decide -> dispatch -> record. Passes are re-entrant: the
// ledger check runs against persisted state under a per-credential lock and
// an optimistic write, so overlapping passes never double-record a
// threshold.
type Scheduler struct {
	repo         ports.CredentialRepository
	settingsRepo ports.SettingsRepository
	dispatcher   *dispatcher.Dispatcher
	eventBus     events.EventBus
	redis        *redis.Client
	clock        evaluator.Clock
	cfg          config.ComplianceConfig
	logger       logger.Logger

	cron       *cron.Cron
	locks      sync.Map
	instanceID string
}

// Summary reports what one pass did.
type Summary struct {
	Evaluated  int            `json:"evaluated"`
	Dispatched int            `json:"dispatched"`
	Conflicts  int            `json:"conflicts"`
	Failures   int            `json:"failures"`
	ByStatus   map[string]int `json:"byStatus"`
}

func New(
	repo ports.CredentialRepository,
	settingsRepo ports.SettingsRepository,
	d *dispatcher.Dispatcher,
	eventBus events.EventBus,
	redisClient *redis.Client,
	clock evaluator.Clock,
	cfg config.ComplianceConfig,
	log logger.Logger,
) *Scheduler {
	return &Scheduler{
		repo:         repo,
		settingsRepo: settingsRepo,
		dispatcher:   d,
		eventBus:     eventBus,
		redis:        redisClient,
		clock:        clock,
		cfg:          cfg,
		logger:       log,
		cron:         cron.New(cron.WithLocation(time.UTC)),
		instanceID:   uuid.New().String(),
	}
}

// Start schedules automatic passes at the configured interval. When Redis is
// configured, a lease gates timed passes so only one instance sweeps; manual
// RunOnce triggers are not gated.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.cfg.PassInterval)
	_, err := s.cron.AddFunc(spec, func() {
		if !s.holdsLease(ctx) {
			return
		}
		if _, err := s.run(ctx, "interval"); err != nil {
			s.logger.Error("scheduled pass failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule pass: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "interval", s.cfg.PassInterval.String())
	return nil
}

// Stop halts timed passes; a pass already running completes.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
}

// RunOnce forces an immediate pass. Safe to call from a timer, CLI or HTTP
// trigger while an automatic pass is in flight.
func (s *Scheduler) RunOnce(ctx context.Context) (*Summary, error) {
	return s.run(ctx, "manual")
}

func (s *Scheduler) run(ctx context.Context, trigger string) (*Summary, error) {
	start := time.Now()

	creds, err := s.repo.ListCredentials(ctx, "")
	if err != nil {
		metrics.PassesTotal.WithLabelValues(trigger, "aborted").Inc()
		return nil, fmt.Errorf("pass aborted: %w", err)
	}

	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	summary := &Summary{ByStatus: make(map[string]int)}
	var mu sync.Mutex

	jobs := make(chan *credential.Credential)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cred := range jobs {
				res := s.processCredential(passCtx, cred)

				mu.Lock()
				summary.Evaluated++
				summary.Dispatched += res.dispatched
				if res.conflictDeferred {
					summary.Conflicts++
				}
				if res.status != "" {
					summary.ByStatus[res.status]++
				}
				if res.err != nil {
					summary.Failures++
				}
				mu.Unlock()

				metrics.CredentialsEvaluated.Inc()

				// A store outage fails every remaining credential the same
				// way; abort the pass and let the next interval retry.
				if errors.Is(res.err, ports.ErrStoreUnavailable) {
					cancel()
				}
			}
		}()
	}

feed:
	for _, cred := range creds {
		select {
		case <-passCtx.Done():
			break feed
		case jobs <- cred:
		}
	}
	close(jobs)
	wg.Wait()

	for status, count := range summary.ByStatus {
		metrics.CredentialsByStatus.WithLabelValues(status).Set(float64(count))
	}
	metrics.PassDuration.Observe(time.Since(start).Seconds())

	if passCtx.Err() != nil && ctx.Err() == nil {
		metrics.PassesTotal.WithLabelValues(trigger, "aborted").Inc()
		s.logger.Warn("pass aborted mid-sweep", "trigger", trigger, "evaluated", summary.Evaluated)
		return summary, ports.ErrStoreUnavailable
	}

	metrics.PassesTotal.WithLabelValues(trigger, "completed").Inc()
	s.logger.Info("pass completed",
		"trigger", trigger,
		"evaluated", summary.Evaluated,
		"dispatched", summary.Dispatched,
		"conflicts", summary.Conflicts,
		"failures", summary.Failures,
		"duration", time.Since(start).String(),
	)
	return summary, nil
}

type cycleResult struct {
	dispatched       int
	status           string
	conflictDeferred bool
	err              error
}

// processCredential runs one credential's evaluate-decide-dispatch-record
// cycle. The read of the ledger, the due decision and the write-back are
// serialized against other cycles for the same credential: in-process via a
// keyed mutex, across processes via the version check on the write.
func (s *Scheduler) processCredential(ctx context.Context, cred *credential.Credential) cycleResult {
	lock := s.lockFor(cred.ID)
	lock.Lock()
	defer lock.Unlock()

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CredentialTimeout)
	defer cancel()

	current := cred
	var res cycleResult

	for attempt := 0; ; attempt++ {
		settings := s.settingsFor(cctx, current.HolderID)
		eval := evaluator.Evaluate(current, s.clock.Now(), settings.ReminderDays)
		res.status = eval.Status

		due := policy.Due(current, eval.DaysUntilExpiry, settings.ReminderDays)
		if len(due) == 0 {
			return res
		}

		sent := s.dispatcher.Dispatch(cctx, current, eval, due, settings)
		if len(sent) == 0 {
			// Nothing to record; the next pass retries whatever is still due.
			if res.err = cctx.Err(); res.err == nil {
				res.err = errAllHandoffsFailed
			}
			return res
		}

		ledger := make([]string, 0, len(current.NotificationsSent)+len(sent))
		ledger = append(ledger, current.NotificationsSent...)
		ledger = append(ledger, sent...)

		err := s.repo.UpdateNotificationHistory(cctx, current.ID, current.Version, ledger)
		if errors.Is(err, ports.ErrConflict) {
			metrics.LedgerConflicts.Inc()
			if attempt >= s.cfg.ConflictRetries {
				res.conflictDeferred = true
				return res
			}
			current, err = s.repo.GetCredential(cctx, current.ID)
			if err != nil {
				res.err = err
				return res
			}
			continue
		}
		if err != nil {
			res.err = err
			return res
		}

		s.publishDispatched(cctx, current, eval, sent)
		res.dispatched = len(sent)
		return res
	}
}

func (s *Scheduler) publishDispatched(ctx context.Context, cred *credential.Credential, eval evaluator.Evaluation, sent []string) {
	for _, label := range sent {
		eventType := events.TypeReminderDispatched
		if label == credential.LabelExpired {
			eventType = events.TypeCredentialExpired
		}
		event := events.NewEvent(eventType, cred.ID, cred.HolderID, map[string]interface{}{
			"threshold":       label,
			"daysUntilExpiry": eval.DaysUntilExpiry,
			"criticality":     cred.Criticality,
			"autoRenewal":     cred.AutoRenewal,
		})
		if err := s.eventBus.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish compliance event", "type", eventType, "credentialId", cred.ID, "error", err)
		}
	}
}

// settingsFor loads the holder's preferences, falling back to the configured
// process-wide defaults when none are stored.
func (s *Scheduler) settingsFor(ctx context.Context, holderID string) *notification.Settings {
	stored, err := s.settingsRepo.GetSettings(ctx, holderID)
	if err == nil {
		return stored
	}
	if !errors.Is(err, credential.ErrNotFound) {
		s.logger.Warn("failed to load holder settings, using defaults", "holderId", holderID, "error", err)
	}

	defaults := notification.DefaultSettings(holderID, s.cfg.ReminderThresholds)
	defaults.EmailEnabled = s.cfg.Channels.Email
	defaults.SMSEnabled = s.cfg.Channels.SMS
	defaults.InAppEnabled = s.cfg.Channels.InApp
	return defaults
}

func (s *Scheduler) lockFor(credentialID string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(credentialID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// holdsLease acquires or refreshes the timed-pass lease. Without Redis every
// instance is its own leader.
func (s *Scheduler) holdsLease(ctx context.Context) bool {
	if s.redis == nil {
		return true
	}

	ttl := s.cfg.PassInterval + 30*time.Second
	ok, err := s.redis.SetNX(ctx, leaderKey, s.instanceID, ttl).Result()
	if err != nil {
		s.logger.Error("failed to acquire scheduler lease", "error", err)
		return false
	}
	if ok {
		return true
	}

	holder, err := s.redis.Get(ctx, leaderKey).Result()
	if err != nil {
		return false
	}
	if holder == s.instanceID {
		s.redis.Expire(ctx, leaderKey, ttl)
		return true
	}
	return false
}
