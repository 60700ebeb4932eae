package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credwatch-go/internal/compliance/ports"
	"github.com/credwatch-go/internal/domain/credential"
	"github.com/credwatch-go/internal/domain/notification"
	"github.com/credwatch-go/internal/services/compliance/dispatcher"
	"github.com/credwatch-go/internal/services/compliance/evaluator"
	"github.com/credwatch-go/pkg/config"
	"github.com/credwatch-go/pkg/events"
	"github.com/credwatch-go/pkg/logger"
)

type memoryRepo struct {
	mu          sync.Mutex
	credentials map[string]*credential.Credential
	listErr     error

	// conflictOnce makes the next ledger write fail with ErrConflict as if a
	// concurrent pass got there first.
	conflictOnce bool
}

func newMemoryRepo(creds ...*credential.Credential) *memoryRepo {
	repo := &memoryRepo{credentials: make(map[string]*credential.Credential)}
	for _, cred := range creds {
		repo.credentials[cred.ID] = cred
	}
	return repo
}

func (m *memoryRepo) CreateCredential(ctx context.Context, cred *credential.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[cred.ID] = cred
	return nil
}

func (m *memoryRepo) GetCredential(ctx context.Context, id string) (*credential.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.credentials[id]
	if !ok {
		return nil, credential.ErrNotFound
	}
	copied := *cred
	return &copied, nil
}

func (m *memoryRepo) UpdateCredential(ctx context.Context, cred *credential.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.credentials[cred.ID]; ok && stored.Version != cred.Version {
		return ports.ErrConflict
	}
	cred.Version++
	m.credentials[cred.ID] = cred
	return nil
}

func (m *memoryRepo) ListCredentials(ctx context.Context, holderID string) ([]*credential.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*credential.Credential
	for _, cred := range m.credentials {
		if holderID != "" && cred.HolderID != holderID {
			continue
		}
		copied := *cred
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memoryRepo) UpdateNotificationHistory(ctx context.Context, id string, version int, sent []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflictOnce {
		m.conflictOnce = false
		return ports.ErrConflict
	}
	cred, ok := m.credentials[id]
	if !ok {
		return credential.ErrNotFound
	}
	if cred.Version != version {
		return ports.ErrConflict
	}
	cred.NotificationsSent = sent
	cred.Version++
	return nil
}

func (m *memoryRepo) ledger(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.credentials[id].NotificationsSent...)
}

type memorySettings struct {
	mu       sync.Mutex
	settings map[string]*notification.Settings
}

func (m *memorySettings) GetSettings(ctx context.Context, holderID string) (*notification.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[holderID]
	if !ok {
		return nil, credential.ErrNotFound
	}
	return s, nil
}

func (m *memorySettings) SaveSettings(ctx context.Context, s *notification.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		m.settings = make(map[string]*notification.Settings)
	}
	m.settings[s.HolderID] = s
	return nil
}

type recordingChannel struct {
	mu       sync.Mutex
	payloads []*notification.Payload
}

func (r *recordingChannel) Send(ctx context.Context, recipient string, payload *notification.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return nil
}

func (r *recordingChannel) thresholds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, p := range r.payloads {
		out = append(out, p.Threshold)
	}
	return out
}

func testConfig() config.ComplianceConfig {
	return config.ComplianceConfig{
		ReminderThresholds: []int{90, 60, 30, 14, 7, 1},
		Channels:           config.ChannelsConfig{Email: true},
		PassInterval:       time.Hour,
		Workers:            4,
		CredentialTimeout:  5 * time.Second,
		ConflictRetries:    2,
	}
}

func newSchedulerWith(t *testing.T, repo *memoryRepo, now time.Time, ch dispatcher.Channel) *Scheduler {
	t.Helper()
	d := dispatcher.New(map[string]dispatcher.Channel{notification.ChannelEmail: ch}, nil, logger.NewNop())
	settings := &memorySettings{settings: map[string]*notification.Settings{
		"holder-1": {
			HolderID:     "holder-1",
			EmailEnabled: true,
			Email:        "nurse@example.com",
			ReminderDays: []int{90, 60, 30, 14, 7, 1},
		},
	}}
	return New(repo, settings, d, events.NopEventBus{}, nil, evaluator.FixedClock{Instant: now}, testConfig(), logger.NewNop())
}

func newTestScheduler(t *testing.T, repo *memoryRepo, now time.Time) (*Scheduler, *recordingChannel) {
	t.Helper()
	email := &recordingChannel{}
	return newSchedulerWith(t, repo, now, email), email
}

func expiring(id string, daysOut int, now time.Time) *credential.Credential {
	cred := credential.New(
		"holder-1",
		"RN License "+id,
		"State Board of Nursing",
		credential.TypeLicense,
		now.AddDate(-1, 0, 0),
		now.AddDate(0, 0, daysOut),
	)
	cred.ID = id
	return cred
}

func TestRunOnce_DispatchesCrossedThresholds(t *testing.T) {
	now := time.Date(2024, 6, 18, 9, 0, 0, 0, time.UTC)
	repo := newMemoryRepo(expiring("cred-1", 27, now))
	s, email := newTestScheduler(t, repo, now)

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Evaluated)
	assert.Equal(t, 3, summary.Dispatched)
	assert.Equal(t, 1, summary.ByStatus[credential.StatusExpiringSoon])
	assert.ElementsMatch(t, []string{"90-day", "60-day", "30-day"}, email.thresholds())
	assert.ElementsMatch(t, []string{"90-day", "60-day", "30-day"}, repo.ledger("cred-1"))
}

func TestRunOnce_SecondPassIsIdempotent(t *testing.T) {
	now := time.Date(2024, 6, 18, 9, 0, 0, 0, time.UTC)
	repo := newMemoryRepo(expiring("cred-1", 27, now))
	s, email := newTestScheduler(t, repo, now)

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Dispatched)
	assert.Len(t, email.thresholds(), 3)
}

func TestRunOnce_ExpiredCredential(t *testing.T) {
	now := time.Date(2024, 7, 20, 9, 0, 0, 0, time.UTC)
	repo := newMemoryRepo(expiring("cred-1", -5, now))
	s, email := newTestScheduler(t, repo, now)

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Dispatched)
	assert.Equal(t, 1, summary.ByStatus[credential.StatusExpired])
	assert.Equal(t, []string{credential.LabelExpired}, email.thresholds())
	assert.Equal(t, []string{credential.LabelExpired}, repo.ledger("cred-1"))
}

func TestRunOnce_RenewalResetsAndFiresAgain(t *testing.T) {
	now := time.Date(2024, 6, 18, 9, 0, 0, 0, time.UTC)
	cred := expiring("cred-1", 27, now)
	repo := newMemoryRepo(cred)
	s, email := newTestScheduler(t, repo, now)

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, email.thresholds(), 3)

	// Renew out to 88 days; the ledger is wiped, so the 90-day threshold
	// fires again on the next pass.
	stored, err := repo.GetCredential(context.Background(), "cred-1")
	require.NoError(t, err)
	stored.Renew(now, now.AddDate(0, 0, 88))
	require.NoError(t, repo.UpdateCredential(context.Background(), stored))

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Dispatched)
	assert.Equal(t, []string{"90-day"}, repo.ledger("cred-1"))
}

func TestRunOnce_ConflictRetriesWithRereadState(t *testing.T) {
	now := time.Date(2024, 6, 18, 9, 0, 0, 0, time.UTC)
	repo := newMemoryRepo(expiring("cred-1", 27, now))
	repo.conflictOnce = true
	s, _ := newTestScheduler(t, repo, now)

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Dispatched)
	assert.Equal(t, 0, summary.Conflicts)
	assert.ElementsMatch(t, []string{"90-day", "60-day", "30-day"}, repo.ledger("cred-1"))
}

type failingChannel struct{}

func (failingChannel) Send(ctx context.Context, recipient string, payload *notification.Payload) error {
	return errors.New("smtp relay down")
}

func TestRunOnce_AllHandoffsFailedCountsAsFailure(t *testing.T) {
	now := time.Date(2024, 6, 18, 9, 0, 0, 0, time.UTC)
	repo := newMemoryRepo(expiring("cred-1", 27, now))
	s := newSchedulerWith(t, repo, now, failingChannel{})

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Evaluated)
	assert.Equal(t, 0, summary.Dispatched)
	assert.Equal(t, 1, summary.Failures)
	assert.Empty(t, repo.ledger("cred-1"))
}

func TestRunOnce_StoreUnavailableAbortsPass(t *testing.T) {
	now := time.Date(2024, 6, 18, 9, 0, 0, 0, time.UTC)
	repo := newMemoryRepo()
	repo.listErr = ports.ErrStoreUnavailable
	s, _ := newTestScheduler(t, repo, now)

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ports.ErrStoreUnavailable)
}

func TestRunOnce_MixedFleet(t *testing.T) {
	now := time.Date(2024, 6, 18, 9, 0, 0, 0, time.UTC)
	repo := newMemoryRepo(
		expiring("cred-valid", 200, now),
		expiring("cred-soon", 5, now),
		expiring("cred-expired", -1, now),
	)
	s, _ := newTestScheduler(t, repo, now)

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Evaluated)
	assert.Equal(t, 1, summary.ByStatus[credential.StatusValid])
	assert.Equal(t, 1, summary.ByStatus[credential.StatusExpiringSoon])
	assert.Equal(t, 1, summary.ByStatus[credential.StatusExpired])

	assert.Empty(t, repo.ledger("cred-valid"))
	assert.ElementsMatch(t, []string{"90-day", "60-day", "30-day", "14-day", "7-day"}, repo.ledger("cred-soon"))
	assert.Equal(t, []string{credential.LabelExpired}, repo.ledger("cred-expired"))
}

func TestRunOnce_PendingRenewalSuppressesExpired(t *testing.T) {
	now := time.Date(2024, 6, 18, 9, 0, 0, 0, time.UTC)
	cred := expiring("cred-1", -10, now)
	cred.PendingRenewal = true
	repo := newMemoryRepo(cred)
	s, email := newTestScheduler(t, repo, now)

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ByStatus[credential.StatusPendingRenewal])
	assert.Empty(t, email.thresholds())
	assert.Empty(t, repo.ledger("cred-1"))
}

func TestHoldsLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	now := time.Date(2024, 6, 18, 9, 0, 0, 0, time.UTC)
	repo := newMemoryRepo()
	first, _ := newTestScheduler(t, repo, now)
	second, _ := newTestScheduler(t, repo, now)
	first.redis = client
	second.redis = client

	ctx := context.Background()
	assert.True(t, first.holdsLease(ctx))
	assert.False(t, second.holdsLease(ctx))

	// The holder refreshes its own lease.
	assert.True(t, first.holdsLease(ctx))

	// Once the lease expires anyone may take it.
	mr.FastForward(testConfig().PassInterval + time.Minute)
	assert.True(t, second.holdsLease(ctx))
}

func TestHoldsLease_NoRedisMeansAlwaysLeader(t *testing.T) {
	now := time.Date(2024, 6, 18, 9, 0, 0, 0, time.UTC)
	s, _ := newTestScheduler(t, newMemoryRepo(), now)
	assert.True(t, s.holdsLease(context.Background()))
}

func TestRunOnce_DefaultSettingsWhenNoneStored(t *testing.T) {
	now := time.Date(2024, 6, 18, 9, 0, 0, 0, time.UTC)
	cred := expiring("cred-1", 27, now)
	cred.HolderID = "holder-unknown"
	repo := newMemoryRepo(cred)
	s, email := newTestScheduler(t, repo, now)

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	// Defaults have no contact points, so email is skipped as a no-op and
	// the crossed thresholds are still recorded.
	assert.Equal(t, 3, summary.Dispatched)
	assert.Empty(t, email.thresholds())
	assert.ElementsMatch(t, []string{"90-day", "60-day", "30-day"}, repo.ledger("cred-1"))
}
