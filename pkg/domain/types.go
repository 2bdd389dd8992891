package domain

import "time"

type UserRole string

const (
	RoleCaregiver UserRole = "CAREGIVER"
	RolePatient   UserRole = "PATIENT"
)

// EmergencyStatus is the patient-level state flipped by SOS triggers.
type EmergencyStatus string

const (
	StatusNormal    EmergencyStatus = "normal"
	StatusEmergency EmergencyStatus = "emergency"
)

type LinkStatus string

const (
	LinkActive LinkStatus = "ACTIVE"
)

type AlertType string

const (
	AlertSOS     AlertType = "SOS"
	AlertGeneric AlertType = "GENERIC"
)

type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "CRITICAL"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityInfo     AlertSeverity = "INFO"
)

// ResolveMethod records which credential produced an Identity.
type ResolveMethod string

const (
	ResolvedByDeviceToken ResolveMethod = "device_token"
	ResolvedByUserID      ResolveMethod = "user_id"
)

type User struct {
	ID                   string          `json:"id"`
	Email                string          `json:"email"`
	Name                 string          `json:"name"`
	PasswordHash         string          `json:"-"`
	Role                 UserRole        `json:"role"`
	Status               EmergencyStatus `json:"status"`
	EmergencyTriggeredAt *time.Time      `json:"emergencyTriggeredAt,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// DeviceCredential binds an unguessable token to the user that registered it.
type DeviceCredential struct {
	UserID       string    `json:"userId"`
	Token        string    `json:"deviceToken"`
	DeviceName   string    `json:"deviceName"`
	DeviceType   string    `json:"deviceType"`
	RegisteredAt time.Time `json:"registeredAt"`
}

type PatientCaregiverLink struct {
	ID          string     `json:"id"`
	PatientID   string     `json:"patientId"`
	CaregiverID string     `json:"caregiverId"`
	Status      LinkStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// PatientLocation is the single latest-known position of a patient.
type PatientLocation struct {
	PatientID  string    `json:"patientId"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	Battery    *int      `json:"battery,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Alert is persisted once per trigger. CaregiverUserIDs is the graph as it
// was at emission time and is never recomputed.
type Alert struct {
	ID               string        `json:"id"`
	RecipientID      string        `json:"recipientId"`
	Type             AlertType     `json:"type"`
	Severity         AlertSeverity `json:"severity"`
	Title            string        `json:"title"`
	Message          string        `json:"message"`
	IsAcknowledged   bool          `json:"isAcknowledged"`
	CaregiverUserIDs []string      `json:"caregiverUserIds"`
	Latitude         *float64      `json:"latitude,omitempty"`
	Longitude        *float64      `json:"longitude,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// Notification is a per-caregiver inbox entry.
type Notification struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"userId"`
	Title              string    `json:"title"`
	Message            string    `json:"message"`
	Type               AlertType `json:"type"`
	IsRead             bool      `json:"isRead"`
	RelatedPatientID   string    `json:"relatedPatientId,omitempty"`
	RelatedPatientName string    `json:"relatedPatientName,omitempty"`
	Latitude           *float64  `json:"latitude,omitempty"`
	Longitude          *float64  `json:"longitude,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Identity is the outcome of identity resolution. It is never persisted.
type Identity struct {
	PatientID string        `json:"patientId"`
	Method    ResolveMethod `json:"method"`
	Device    string        `json:"device,omitempty"`
	User      User          `json:"-"`
}
