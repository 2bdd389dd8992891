package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"remora/internal/util"
	"remora/pkg/domain"
	"remora/pkg/realtime"
)

const defaultDevice = "esp8266"

// TriggerEvent is an alert to fan out for an already resolved patient.
// Notification title and message fall back to the alert's.
type TriggerEvent struct {
	Patient             domain.User
	Type                domain.AlertType
	Severity            domain.AlertSeverity
	Title               string
	Message             string
	NotificationTitle   string
	NotificationMessage string
}

type FanOutResult struct {
	Alert               domain.Alert `json:"alert"`
	CaregiversNotified  int          `json:"caregiversNotified"`
	NotificationsFailed int          `json:"notificationsFailed"`
}

// Trigger records one alert for the patient, one notification per linked
// caregiver, and publishes the alert on the patient's channel. Notification
// write failures are logged and skipped. The publish happens in the background
// after persistence.
func (a *App) Trigger(ctx context.Context, ev TriggerEvent) (FanOutResult, error) {
	patientID := ev.Patient.ID
	caregiverIDs, err := a.caregiversOf(ctx, patientID)
	if err != nil {
		return FanOutResult{}, err
	}

	alert := domain.Alert{
		ID:               util.NewID(),
		RecipientID:      patientID,
		Type:             ev.Type,
		Severity:         ev.Severity,
		Title:            ev.Title,
		Message:          ev.Message,
		CaregiverUserIDs: caregiverIDs,
		CreatedAt:        a.now(),
	}
	if loc, ok := a.locationSnapshot(ctx, patientID); ok {
		lat, lng := loc.Latitude, loc.Longitude
		alert.Latitude = &lat
		alert.Longitude = &lng
	}

	sctx, cancel := a.storeCtx(ctx)
	err = a.store.InsertAlert(sctx, alert)
	cancel()
	if err != nil {
		return FanOutResult{}, storageError("insert alert", err)
	}

	notified, failed := a.notifyCaregivers(ctx, alert, ev)
	a.publishAsync(realtime.RecipientChannel(patientID), realtime.EventAlertNew, alert)

	a.logger.Info("alert fanned out",
		"alert_id", alert.ID,
		"patient_id", patientID,
		"alert_type", alert.Type,
		"caregivers_notified", notified,
		"notifications_failed", failed,
	)
	return FanOutResult{Alert: alert, CaregiversNotified: notified, NotificationsFailed: failed}, nil
}

// locationSnapshot is best effort; read errors leave the alert without coordinates.
func (a *App) locationSnapshot(ctx context.Context, patientID string) (domain.PatientLocation, bool) {
	loc, ok, err := a.GetLatestLocation(ctx, patientID)
	if err != nil {
		a.logger.Warn("alert location enrichment skipped", "patient_id", patientID, "err", err)
		return domain.PatientLocation{}, false
	}
	return loc, ok
}

func (a *App) notifyCaregivers(ctx context.Context, alert domain.Alert, ev TriggerEvent) (notified, failed int) {
	title := ev.NotificationTitle
	if title == "" {
		title = alert.Title
	}
	message := ev.NotificationMessage
	if message == "" {
		message = alert.Message
	}

	var ok, bad atomic.Int64
	var g errgroup.Group
	g.SetLimit(a.notifyConcurrency)
	for _, caregiverID := range alert.CaregiverUserIDs {
		g.Go(func() error {
			n := domain.Notification{
				ID:                 util.NewID(),
				UserID:             caregiverID,
				Title:              title,
				Message:            message,
				Type:               alert.Type,
				RelatedPatientID:   alert.RecipientID,
				RelatedPatientName: ev.Patient.Name,
				Latitude:           alert.Latitude,
				Longitude:          alert.Longitude,
				CreatedAt:          alert.CreatedAt,
			}
			sctx, cancel := a.storeCtx(ctx)
			defer cancel()
			if err := a.store.InsertNotification(sctx, n); err != nil {
				bad.Add(1)
				a.logger.Warn("notification write failed", "alert_id", alert.ID, "caregiver_id", caregiverID, "err", err)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), int(bad.Load())
}

type SOSResult struct {
	UserID               string                 `json:"userId"`
	Status               domain.EmergencyStatus `json:"status"`
	Device               string                 `json:"device"`
	Method               domain.ResolveMethod   `json:"method"`
	Timestamp            time.Time              `json:"timestamp"`
	EmergencyTriggeredAt time.Time              `json:"emergencyTriggeredAt"`
	CaregiversNotified   int                    `json:"caregiversNotified"`
	AlertID              string                 `json:"alertId"`
	Alert                domain.Alert           `json:"-"`
}

// TriggerSOS resolves the credential, marks the patient as in emergency and
// fans out a critical alert. Every call notifies again, even when the patient
// is already in emergency.
func (a *App) TriggerSOS(ctx context.Context, cred Credential) (SOSResult, error) {
	identity, err := a.resolver.Resolve(ctx, cred)
	if err != nil {
		return SOSResult{}, err
	}

	now := a.now()
	sctx, cancel := a.storeCtx(ctx)
	patient, ok, err := a.store.SetEmergencyStatus(sctx, identity.PatientID, domain.StatusEmergency, now)
	cancel()
	if err != nil {
		return SOSResult{}, storageError("set emergency status", err)
	}
	if !ok {
		return SOSResult{}, ErrIdentityNotFound
	}

	name := displayName(patient)
	res, err := a.Trigger(ctx, TriggerEvent{
		Patient:             patient,
		Type:                domain.AlertSOS,
		Severity:            domain.SeverityCritical,
		Title:               fmt.Sprintf("SOS Alert from %s", name),
		Message:             fmt.Sprintf("%s (%s) has triggered an emergency SOS alert.", name, patient.Email),
		NotificationTitle:   fmt.Sprintf("🚨 SOS Alert from %s", name),
		NotificationMessage: fmt.Sprintf("%s has triggered an emergency SOS alert. Immediate attention required!", name),
	})
	if err != nil {
		return SOSResult{}, err
	}

	device := identity.Device
	if device == "" {
		device = defaultDevice
	}
	a.logger.Warn("sos triggered",
		"patient_id", patient.ID,
		"method", identity.Method,
		"device", device,
		"caregivers_notified", res.CaregiversNotified,
	)
	return SOSResult{
		UserID:               patient.ID,
		Status:               domain.StatusEmergency,
		Device:               device,
		Method:               identity.Method,
		Timestamp:            now,
		EmergencyTriggeredAt: now,
		CaregiversNotified:   res.CaregiversNotified,
		AlertID:              res.Alert.ID,
		Alert:                res.Alert,
	}, nil
}

type VoiceToggleResult struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// TriggerVoiceToggle signals the patient's app on its device channel. Nothing
// is persisted.
func (a *App) TriggerVoiceToggle(ctx context.Context, cred Credential) (VoiceToggleResult, error) {
	identity, err := a.resolver.Resolve(ctx, cred)
	if err != nil {
		return VoiceToggleResult{}, err
	}
	res := VoiceToggleResult{UserID: identity.PatientID, Timestamp: a.now()}
	a.publishAsync(realtime.DeviceChannel(identity.PatientID), realtime.EventVoiceToggle, res)
	a.logger.Info("voice toggle sent", "patient_id", identity.PatientID, "method", identity.Method)
	return res, nil
}

// AlertInput describes a manually raised alert.
type AlertInput struct {
	RecipientID string
	Type        domain.AlertType
	Severity    domain.AlertSeverity
	Title       string
	Message     string
}

// CreateAlert runs the fan-out for a manual alert.
func (a *App) CreateAlert(ctx context.Context, in AlertInput) (FanOutResult, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Message = strings.TrimSpace(in.Message)
	if in.Title == "" || in.Message == "" {
		return FanOutResult{}, ErrTitleAndMessage
	}
	if in.Type == "" {
		in.Type = domain.AlertGeneric
	}
	in.Type = domain.AlertType(strings.ToUpper(string(in.Type)))
	switch in.Severity {
	case "":
		in.Severity = domain.SeverityInfo
	case domain.SeverityCritical, domain.SeverityWarning, domain.SeverityInfo:
	default:
		return FanOutResult{}, ErrInvalidSeverity
	}

	patient, ok, err := a.getUser(ctx, in.RecipientID)
	if err != nil {
		return FanOutResult{}, err
	}
	if !ok {
		return FanOutResult{}, ErrIdentityNotFound
	}
	return a.Trigger(ctx, TriggerEvent{
		Patient:  patient,
		Type:     in.Type,
		Severity: in.Severity,
		Title:    in.Title,
		Message:  in.Message,
	})
}

// AcknowledgeAlert flips isAcknowledged. Repeating it is harmless.
func (a *App) AcknowledgeAlert(ctx context.Context, alertID string) (domain.Alert, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	alert, ok, err := a.store.AcknowledgeAlert(sctx, alertID)
	if err != nil {
		return domain.Alert{}, storageError("acknowledge alert", err)
	}
	if !ok {
		return domain.Alert{}, ErrAlertNotFound
	}
	return alert, nil
}

func (a *App) GetAlert(ctx context.Context, alertID string) (domain.Alert, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	alert, ok, err := a.store.GetAlert(sctx, alertID)
	if err != nil {
		return domain.Alert{}, storageError("get alert", err)
	}
	if !ok {
		return domain.Alert{}, ErrAlertNotFound
	}
	return alert, nil
}

// ResolveEmergency returns the patient to normal status. Alerts are untouched.
func (a *App) ResolveEmergency(ctx context.Context, patientID string) (domain.User, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	user, ok, err := a.store.SetEmergencyStatus(sctx, patientID, domain.StatusNormal, a.now())
	if err != nil {
		return domain.User{}, storageError("set emergency status", err)
	}
	if !ok {
		return domain.User{}, ErrIdentityNotFound
	}
	a.logger.Info("emergency resolved", "patient_id", patientID)
	return user, nil
}

func displayName(u domain.User) string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	if u.Email != "" {
		return u.Email
	}
	return "Patient"
}
