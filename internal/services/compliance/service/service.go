package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/credwatch-go/internal/compliance/ports"
	"github.com/credwatch-go/internal/domain/credential"
	"github.com/credwatch-go/internal/domain/notification"
	"github.com/credwatch-go/internal/services/compliance/evaluator"
	"github.com/credwatch-go/pkg/cache"
	"github.com/credwatch-go/pkg/config"
	"github.com/credwatch-go/pkg/events"
	"github.com/credwatch-go/pkg/logger"
)

const summaryTTL = 30 * time.Second

// ComplianceService is the CRUD and reporting surface around the tracked
// credentials. The scheduler owns reminder dispatch; this service owns the
// records it sweeps.
type ComplianceService struct {
	repo         ports.CredentialRepository
	settingsRepo ports.SettingsRepository
	feedRepo     ports.NotificationRepository
	eventBus     events.EventBus
	cache        cache.Cache
	clock        evaluator.Clock
	cfg          config.ComplianceConfig
	logger       logger.Logger
}

// New builds the service. cacheStore may be nil; summaries are then derived
// on every call.
func New(
	repo ports.CredentialRepository,
	settingsRepo ports.SettingsRepository,
	feedRepo ports.NotificationRepository,
	eventBus events.EventBus,
	cacheStore cache.Cache,
	clock evaluator.Clock,
	cfg config.ComplianceConfig,
	log logger.Logger,
) *ComplianceService {
	return &ComplianceService{
		repo:         repo,
		settingsRepo: settingsRepo,
		feedRepo:     feedRepo,
		eventBus:     eventBus,
		cache:        cacheStore,
		clock:        clock,
		cfg:          cfg,
		logger:       log,
	}
}

// CreateCredentialInput carries the externally supplied attributes; status
// and the ledger are never accepted from callers.
type CreateCredentialInput struct {
	HolderID    string    `json:"holderId" binding:"required"`
	Name        string    `json:"name" binding:"required"`
	Issuer      string    `json:"issuer"`
	Type        string    `json:"type" binding:"required"`
	IssueDate   time.Time `json:"issueDate" binding:"required"`
	ExpiryDate  time.Time `json:"expiryDate" binding:"required"`
	Criticality string    `json:"criticality"`
	AutoRenewal bool      `json:"autoRenewal"`
}

// UpdateCredentialInput mutates an existing credential. A nil field is left
// unchanged.
type UpdateCredentialInput struct {
	Name           *string    `json:"name"`
	Issuer         *string    `json:"issuer"`
	IssueDate      *time.Time `json:"issueDate"`
	ExpiryDate     *time.Time `json:"expiryDate"`
	Criticality    *string    `json:"criticality"`
	AutoRenewal    *bool      `json:"autoRenewal"`
	PendingRenewal *bool      `json:"pendingRenewal"`
}

// CredentialView is a credential with its derived evaluation attached.
type CredentialView struct {
	*credential.Credential
	Status          string `json:"status"`
	DaysUntilExpiry int    `json:"daysUntilExpiry"`
}

// ComplianceSummary mirrors the compliance dashboard counters.
type ComplianceSummary struct {
	Total          int `json:"total"`
	Valid          int `json:"valid"`
	ExpiringSoon   int `json:"expiringSoon"`
	Expired        int `json:"expired"`
	PendingRenewal int `json:"pendingRenewal"`
	CriticalAtRisk int `json:"criticalAtRisk"`
}

func (s *ComplianceService) CreateCredential(ctx context.Context, input CreateCredentialInput) (*CredentialView, error) {
	if !credential.ValidType(input.Type) {
		return nil, fmt.Errorf("%w: %q", credential.ErrInvalidType, input.Type)
	}
	if input.Criticality == "" {
		input.Criticality = credential.CriticalityMedium
	}
	if !credential.ValidCriticality(input.Criticality) {
		return nil, fmt.Errorf("%w: %q", credential.ErrInvalidCritical, input.Criticality)
	}
	if !input.ExpiryDate.After(input.IssueDate) {
		return nil, errors.New("expiry date must be after issue date")
	}

	cred := credential.New(input.HolderID, input.Name, input.Issuer, input.Type, input.IssueDate, input.ExpiryDate)
	cred.Criticality = input.Criticality
	cred.AutoRenewal = input.AutoRenewal

	if err := s.repo.CreateCredential(ctx, cred); err != nil {
		return nil, err
	}
	s.invalidateSummary(ctx, cred.HolderID)
	return s.view(ctx, cred), nil
}

// UpdateCredential applies edits. Changing the expiry date is a renewal:
// the ledger is cleared so thresholds accumulate fresh against the new
// timeline, and a renewal event is published. The write is version-guarded;
// losing a race against a scheduler ledger write re-reads and re-applies the
// edit so recorded labels are never overwritten with a stale snapshot.
func (s *ComplianceService) UpdateCredential(ctx context.Context, id string, input UpdateCredentialInput) (*CredentialView, error) {
	var (
		cred    *credential.Credential
		renewed bool
	)
	for attempt := 0; ; attempt++ {
		var err error
		cred, err = s.repo.GetCredential(ctx, id)
		if err != nil {
			return nil, err
		}

		renewed, err = applyUpdate(cred, input)
		if err != nil {
			return nil, err
		}

		err = s.repo.UpdateCredential(ctx, cred)
		if errors.Is(err, ports.ErrConflict) && attempt < s.cfg.ConflictRetries {
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}
	s.invalidateSummary(ctx, cred.HolderID)

	if renewed {
		event := events.NewEvent(events.TypeCredentialRenewed, cred.ID, cred.HolderID, map[string]interface{}{
			"expiryDate": cred.ExpiryDate,
		})
		if err := s.eventBus.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish renewal event", "credentialId", cred.ID, "error", err)
		}
	}

	return s.view(ctx, cred), nil
}

// applyUpdate mutates cred with the non-nil input fields and reports whether
// the edit moved the expiry date.
func applyUpdate(cred *credential.Credential, input UpdateCredentialInput) (bool, error) {
	if input.Name != nil {
		cred.Name = *input.Name
	}
	if input.Issuer != nil {
		cred.Issuer = *input.Issuer
	}
	if input.Criticality != nil {
		if !credential.ValidCriticality(*input.Criticality) {
			return false, fmt.Errorf("%w: %q", credential.ErrInvalidCritical, *input.Criticality)
		}
		cred.Criticality = *input.Criticality
	}
	if input.AutoRenewal != nil {
		cred.AutoRenewal = *input.AutoRenewal
	}
	if input.PendingRenewal != nil {
		cred.PendingRenewal = *input.PendingRenewal
	}

	renewed := false
	if input.ExpiryDate != nil && !input.ExpiryDate.Equal(cred.ExpiryDate) {
		issueDate := cred.IssueDate
		if input.IssueDate != nil {
			issueDate = *input.IssueDate
		}
		cred.Renew(issueDate, *input.ExpiryDate)
		renewed = true
	} else if input.IssueDate != nil {
		cred.IssueDate = *input.IssueDate
	}
	cred.UpdatedAt = time.Now().UTC()
	return renewed, nil
}

func (s *ComplianceService) GetCredential(ctx context.Context, id string) (*CredentialView, error) {
	cred, err := s.repo.GetCredential(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, cred), nil
}

// ListCredentials returns credentials with their derived status; holderID
// empty means all holders.
func (s *ComplianceService) ListCredentials(ctx context.Context, holderID string) ([]*CredentialView, error) {
	creds, err := s.repo.ListCredentials(ctx, holderID)
	if err != nil {
		return nil, err
	}

	views := make([]*CredentialView, 0, len(creds))
	for _, cred := range creds {
		views = append(views, s.view(ctx, cred))
	}
	return views, nil
}

// Summary derives the compliance counters for a holder, or fleet-wide when
// holderID is empty. Counters are cached briefly; status changes only at
// day granularity, so a stale window of seconds is invisible.
func (s *ComplianceService) Summary(ctx context.Context, holderID string) (*ComplianceSummary, error) {
	key := summaryKey(holderID)
	if s.cache != nil {
		var cached ComplianceSummary
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	views, err := s.ListCredentials(ctx, holderID)
	if err != nil {
		return nil, err
	}

	summary := &ComplianceSummary{Total: len(views)}
	for _, v := range views {
		switch v.Status {
		case credential.StatusValid:
			summary.Valid++
		case credential.StatusExpiringSoon:
			summary.ExpiringSoon++
		case credential.StatusExpired:
			summary.Expired++
		case credential.StatusPendingRenewal:
			summary.PendingRenewal++
		}
		if v.Criticality == credential.CriticalityCritical && v.Status != credential.StatusValid {
			summary.CriticalAtRisk++
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, summary, summaryTTL); err != nil {
			s.logger.Warn("failed to cache summary", "holderId", holderID, "error", err)
		}
	}
	return summary, nil
}

func summaryKey(holderID string) string {
	if holderID == "" {
		return "summary:all"
	}
	return "summary:" + holderID
}

// invalidateSummary drops the holder's cached counters after a mutation.
func (s *ComplianceService) invalidateSummary(ctx context.Context, holderID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, summaryKey(holderID), summaryKey("")); err != nil {
		s.logger.Warn("failed to invalidate summary cache", "holderId", holderID, "error", err)
	}
}

func (s *ComplianceService) GetSettings(ctx context.Context, holderID string) (*notification.Settings, error) {
	stored, err := s.settingsRepo.GetSettings(ctx, holderID)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, credential.ErrNotFound) {
		return nil, err
	}

	defaults := notification.DefaultSettings(holderID, s.cfg.ReminderThresholds)
	defaults.EmailEnabled = s.cfg.Channels.Email
	defaults.SMSEnabled = s.cfg.Channels.SMS
	defaults.InAppEnabled = s.cfg.Channels.InApp
	return defaults, nil
}

func (s *ComplianceService) UpdateSettings(ctx context.Context, settings *notification.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	existing, err := s.settingsRepo.GetSettings(ctx, settings.HolderID)
	if err == nil {
		settings.ID = existing.ID
		settings.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, credential.ErrNotFound) {
		return err
	}
	if settings.ID == "" {
		settings.ID = uuid.New().String()
		settings.CreatedAt = time.Now().UTC()
	}
	settings.UpdatedAt = time.Now().UTC()

	return s.settingsRepo.SaveSettings(ctx, settings)
}

func (s *ComplianceService) ListNotifications(ctx context.Context, holderID string) ([]*notification.Notification, error) {
	return s.feedRepo.ListNotifications(ctx, holderID)
}

func (s *ComplianceService) MarkNotificationRead(ctx context.Context, id string) error {
	return s.feedRepo.MarkAsRead(ctx, id)
}

func (s *ComplianceService) view(ctx context.Context, cred *credential.Credential) *CredentialView {
	thresholds := s.cfg.ReminderThresholds
	if stored, err := s.settingsRepo.GetSettings(ctx, cred.HolderID); err == nil {
		thresholds = stored.ReminderDays
	}

	eval := evaluator.Evaluate(cred, s.clock.Now(), thresholds)
	return &CredentialView{
		Credential:      cred,
		Status:          eval.Status,
		DaysUntilExpiry: eval.DaysUntilExpiry,
	}
}
