package repository

import (
	"context"
	"errors"
	"time"

	"github.com/credwatch-go/internal/compliance/ports"
	"github.com/credwatch-go/internal/domain/credential"
	"github.com/credwatch-go/internal/domain/notification"
	"github.com/credwatch-go/pkg/database"
	"gorm.io/gorm"
)

// ComplianceRepository persists credentials, per-holder notification
// settings and the in-app feed behind the compliance ports.
type ComplianceRepository struct {
	db *database.DB
}

func NewComplianceRepository(db *database.DB) *ComplianceRepository {
	return &ComplianceRepository{db: db}
}

// Migrate creates the backing tables.
func (r *ComplianceRepository) Migrate() error {
	return r.db.Migrate(
		&credential.Credential{},
		&notification.Settings{},
		&notification.Notification{},
	)
}

func (r *ComplianceRepository) CreateCredential(ctx context.Context, cred *credential.Credential) error {
	if err := r.db.WithContext(ctx).Create(cred).Error; err != nil {
		return storeErr(err)
	}
	return nil
}

func (r *ComplianceRepository) GetCredential(ctx context.Context, id string) (*credential.Credential, error) {
	var cred credential.Credential
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, credential.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &cred, nil
}

// UpdateCredential writes the full row under the same version guard as the
// ledger: a snapshot that went stale since it was read loses with
// ports.ErrConflict instead of silently overwriting concurrent writes.
func (r *ComplianceRepository) UpdateCredential(ctx context.Context, cred *credential.Credential) error {
	version := cred.Version
	cred.Version = version + 1

	res := r.db.WithContext(ctx).
		Model(&credential.Credential{}).
		Where("id = ? AND version = ?", cred.ID, version).
		Select("*").Omit("id", "created_at").
		Updates(cred)
	if res.Error != nil {
		cred.Version = version
		return storeErr(res.Error)
	}
	if res.RowsAffected == 0 {
		cred.Version = version
		return ports.ErrConflict
	}
	return nil
}

func (r *ComplianceRepository) ListCredentials(ctx context.Context, holderID string) ([]*credential.Credential, error) {
	var creds []*credential.Credential
	query := r.db.WithContext(ctx)
	if holderID != "" {
		query = query.Where("holder_id = ?", holderID)
	}
	if err := query.Order("expiry_date asc").Find(&creds).Error; err != nil {
		return nil, storeErr(err)
	}
	return creds, nil
}

// UpdateNotificationHistory appends to the ledger with optimistic
// concurrency: the write lands only if the row still carries the version the
// caller read. A lost race surfaces as ports.ErrConflict.
func (r *ComplianceRepository) UpdateNotificationHistory(ctx context.Context, id string, version int, sent []string) error {
	res := r.db.WithContext(ctx).
		Model(&credential.Credential{}).
		Where("id = ? AND version = ?", id, version).
		Select("notifications_sent", "version").
		Updates(&credential.Credential{NotificationsSent: sent, Version: version + 1})
	if res.Error != nil {
		return storeErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ports.ErrConflict
	}
	return nil
}

func (r *ComplianceRepository) GetSettings(ctx context.Context, holderID string) (*notification.Settings, error) {
	var settings notification.Settings
	err := r.db.WithContext(ctx).Where("holder_id = ?", holderID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, credential.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &settings, nil
}

func (r *ComplianceRepository) SaveSettings(ctx context.Context, settings *notification.Settings) error {
	if err := r.db.WithContext(ctx).Save(settings).Error; err != nil {
		return storeErr(err)
	}
	return nil
}

func (r *ComplianceRepository) CreateNotification(ctx context.Context, n *notification.Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return storeErr(err)
	}
	return nil
}

func (r *ComplianceRepository) ListNotifications(ctx context.Context, holderID string) ([]*notification.Notification, error) {
	var feed []*notification.Notification
	err := r.db.WithContext(ctx).
		Where("holder_id = ?", holderID).
		Order("created_at desc").
		Find(&feed).Error
	if err != nil {
		return nil, storeErr(err)
	}
	return feed, nil
}

func (r *ComplianceRepository) MarkAsRead(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).
		Model(&notification.Notification{}).
		Where("id = ? AND read_at IS NULL", id).
		Update("read_at", time.Now().UTC())
	if res.Error != nil {
		return storeErr(res.Error)
	}
	return nil
}

// storeErr folds driver-level failures into the pass-aborting sentinel while
// keeping the underlying cause attached.
func storeErr(err error) error {
	return errors.Join(ports.ErrStoreUnavailable, err)
}
