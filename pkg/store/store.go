package store

import (
	"context"
	"time"

	"remora/pkg/domain"
)

// Store defines persistence operations for users, device credentials,
// caregiver links, latest locations, alerts, and notifications.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) error
	HasUserEmail(ctx context.Context, email string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	SearchUsers(ctx context.Context, q UserQuery) ([]domain.User, error)
	SetEmergencyStatus(ctx context.Context, id string, status domain.EmergencyStatus, at time.Time) (domain.User, bool, error)

	// device credentials
	AddDeviceCredential(ctx context.Context, cred domain.DeviceCredential) error
	FindUserByDeviceToken(ctx context.Context, token string) (domain.User, bool, error)

	// links
	FindLink(ctx context.Context, patientID, caregiverID string) (domain.PatientCaregiverLink, bool, error)
	InsertLink(ctx context.Context, link domain.PatientCaregiverLink) (bool, error)
	ListLinksByPatient(ctx context.Context, patientID string) ([]domain.PatientCaregiverLink, error)
	ListLinksByCaregiver(ctx context.Context, caregiverID string) ([]domain.PatientCaregiverLink, error)

	// locations
	UpsertLocation(ctx context.Context, loc domain.PatientLocation) (domain.PatientLocation, error)
	GetLocation(ctx context.Context, patientID string) (domain.PatientLocation, bool, error)
	CountLocations(ctx context.Context, patientID string) (int, error)

	// alerts
	InsertAlert(ctx context.Context, a domain.Alert) error
	GetAlert(ctx context.Context, id string) (domain.Alert, bool, error)
	AcknowledgeAlert(ctx context.Context, id string) (domain.Alert, bool, error)
	ListAlerts(ctx context.Context, recipientID string, limit int) ([]domain.Alert, error)

	// notifications
	InsertNotification(ctx context.Context, n domain.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) (domain.Notification, bool, error)
}

// UserQuery filters users. Empty fields are ignored; a zero Limit means no limit.
type UserQuery struct {
	Role          domain.UserRole
	ID            string
	EmailExact    string
	EmailContains string
	NameContains  string
	Limit         int
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
