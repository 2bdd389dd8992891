package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID                   string `gorm:"primaryKey"`
	Email                string `gorm:"uniqueIndex;not null"`
	Name                 string `gorm:"not null"`
	PasswordHash         string `gorm:"not null"`
	Role                 string
	Status               string
	EmergencyTriggeredAt *time.Time
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time
}

type DeviceCredentialModel struct {
	Token        string    `gorm:"primaryKey"`
	UserID       string    `gorm:"not null;index"`
	DeviceName   string    `gorm:"not null"`
	DeviceType   string    `gorm:"not null"`
	RegisteredAt time.Time `gorm:"not null"`
}

type LinkModel struct {
	ID          string    `gorm:"primaryKey"`
	PatientID   string    `gorm:"not null;uniqueIndex:idx_link_pair;index"`
	CaregiverID string    `gorm:"not null;uniqueIndex:idx_link_pair;index"`
	Status      string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

type LocationModel struct {
	PatientID  string  `gorm:"primaryKey"`
	Latitude   float64 `gorm:"not null"`
	Longitude  float64 `gorm:"not null"`
	Accuracy   *float64
	Battery    *int
	RecordedAt time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

type AlertModel struct {
	ID               string `gorm:"primaryKey"`
	RecipientID      string `gorm:"not null;index"`
	Type             string `gorm:"not null"`
	Severity         string `gorm:"not null"`
	Title            string `gorm:"not null"`
	Message          string `gorm:"type:text;not null"`
	IsAcknowledged   bool   `gorm:"not null;default:false"`
	CaregiverUserIDs datatypes.JSON
	Latitude         *float64
	Longitude        *float64
	CreatedAt        time.Time `gorm:"not null;index"`
}

type NotificationModel struct {
	ID                 string `gorm:"primaryKey"`
	UserID             string `gorm:"not null;index"`
	Title              string `gorm:"not null"`
	Message            string `gorm:"type:text;not null"`
	Type               string `gorm:"not null"`
	IsRead             bool   `gorm:"not null;default:false"`
	RelatedPatientID   string
	RelatedPatientName string
	Latitude           *float64
	Longitude          *float64
	CreatedAt          time.Time `gorm:"not null;index"`
}
