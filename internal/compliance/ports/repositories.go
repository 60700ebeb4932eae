package ports

import (
	"context"
	"errors"

	"github.com/credwatch-go/internal/domain/credential"
	"github.com/credwatch-go/internal/domain/notification"
)

var (
	// ErrConflict means another writer updated the credential first; the
	// caller must re-read and recompute before retrying.
	ErrConflict = errors.New("credential was modified by a concurrent writer")

	// ErrStoreUnavailable aborts the current scheduler pass; nothing is
	// marked sent without a confirmed write, so the next pass recovers.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

type CredentialRepository interface {
	CreateCredential(ctx context.Context, cred *credential.Credential) error
	GetCredential(ctx context.Context, id string) (*credential.Credential, error)
	UpdateCredential(ctx context.Context, cred *credential.Credential) error

	// ListCredentials returns all tracked credentials, or one holder's when
	// holderID is non-empty.
	ListCredentials(ctx context.Context, holderID string) ([]*credential.Credential, error)

	// UpdateNotificationHistory writes the ledger read-modify-write style:
	// the update applies only if the stored version still matches, otherwise
	// ErrConflict is returned and nothing changes.
	UpdateNotificationHistory(ctx context.Context, id string, version int, sent []string) error
}

type SettingsRepository interface {
	// GetSettings reports a missing row as credential.ErrNotFound so callers
	// can fall back to the configured defaults.
	GetSettings(ctx context.Context, holderID string) (*notification.Settings, error)
	SaveSettings(ctx context.Context, settings *notification.Settings) error
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *notification.Notification) error
	ListNotifications(ctx context.Context, holderID string) ([]*notification.Notification, error)
	MarkAsRead(ctx context.Context, id string) error
}
