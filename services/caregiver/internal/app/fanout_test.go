package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"remora/internal/util"
	"remora/pkg/domain"
	"remora/pkg/realtime"
	"remora/pkg/store"
)

func TestTriggerSOSFansOutToEveryCaregiver(t *testing.T) {
	a, mem, pub := newTestApp(t)
	patient := seedUser(t, mem, domain.RolePatient, "Asha", "asha@example.com")
	c1 := seedUser(t, mem, domain.RoleCaregiver, "Ravi", "ravi@example.com")
	c2 := seedUser(t, mem, domain.RoleCaregiver, "Nina", "nina@example.com")
	mustLink(t, a, patient.ID, c1.ID)
	mustLink(t, a, patient.ID, c2.ID)

	res, err := a.TriggerSOS(context.Background(), Credential{UserID: patient.ID})
	if err != nil {
		t.Fatalf("trigger sos: %v", err)
	}
	if res.CaregiversNotified != 2 {
		t.Fatalf("caregiversNotified = %d, want 2", res.CaregiversNotified)
	}
	alerts, notifications := mem.Counts()
	if alerts != 1 || notifications != 2 {
		t.Fatalf("alerts=%d notifications=%d, want 1 and 2", alerts, notifications)
	}

	a.bg.Wait()
	events := pub.on(realtime.RecipientChannel(patient.ID))
	if len(events) != 1 || events[0].event != realtime.EventAlertNew {
		t.Fatalf("expected one alert:new publish, got %+v", events)
	}
	published, ok := events[0].payload.(domain.Alert)
	if !ok || published.ID != res.AlertID {
		t.Fatalf("published payload = %+v, want alert %s", events[0].payload, res.AlertID)
	}

	for _, c := range []domain.User{c1, c2} {
		inbox, err := a.ListNotifications(context.Background(), c.ID, 0)
		if err != nil {
			t.Fatalf("list notifications: %v", err)
		}
		if len(inbox) != 1 {
			t.Fatalf("caregiver %s inbox = %d, want 1", c.Name, len(inbox))
		}
		n := inbox[0]
		if n.Title != "🚨 SOS Alert from Asha" || n.Type != domain.AlertSOS || n.RelatedPatientID != patient.ID || n.RelatedPatientName != "Asha" {
			t.Fatalf("unexpected notification: %+v", n)
		}
		if !strings.Contains(n.Message, "Immediate attention required!") {
			t.Fatalf("unexpected message: %q", n.Message)
		}
	}
}

func TestTriggerSOSWithoutCaregiversStillRecordsAlert(t *testing.T) {
	a, mem, pub := newTestApp(t)
	patient := seedUser(t, mem, domain.RolePatient, "Asha", "asha@example.com")

	res, err := a.TriggerSOS(context.Background(), Credential{UserID: patient.ID})
	if err != nil {
		t.Fatalf("trigger sos: %v", err)
	}
	if res.CaregiversNotified != 0 {
		t.Fatalf("caregiversNotified = %d, want 0", res.CaregiversNotified)
	}
	alerts, notifications := mem.Counts()
	if alerts != 1 || notifications != 0 {
		t.Fatalf("alerts=%d notifications=%d, want 1 and 0", alerts, notifications)
	}
	a.bg.Wait()
	if got := len(pub.on(realtime.RecipientChannel(patient.ID))); got != 1 {
		t.Fatalf("publishes = %d, want 1", got)
	}
}

func TestTriggerSOSByDeviceTokenScenario(t *testing.T) {
	a, mem, _ := newTestApp(t)
	ctx := context.Background()
	patient := seedUser(t, mem, domain.RolePatient, "Asha", "asha@example.com")
	caregiver := seedUser(t, mem, domain.RoleCaregiver, "Ravi", "ravi@example.com")
	seedDevice(t, mem, patient.ID, "abc123")
	mustLink(t, a, patient.ID, caregiver.ID)
	if _, err := a.RecordLocation(ctx, patient.ID, LocationFix{Latitude: 12.9, Longitude: 77.6}); err != nil {
		t.Fatalf("record location: %v", err)
	}

	res, err := a.TriggerSOS(ctx, Credential{DeviceToken: "abc123", Device: "esp8266"})
	if err != nil {
		t.Fatalf("trigger sos: %v", err)
	}
	if res.Status != domain.StatusEmergency || res.CaregiversNotified != 1 || res.Method != domain.ResolvedByDeviceToken {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Device != "esp8266" || res.UserID != patient.ID {
		t.Fatalf("unexpected device/user: %+v", res)
	}

	alert, err := a.GetAlert(ctx, res.AlertID)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if alert.Latitude == nil || alert.Longitude == nil || *alert.Latitude != 12.9 || *alert.Longitude != 77.6 {
		t.Fatalf("alert coordinates = %v,%v, want 12.9,77.6", alert.Latitude, alert.Longitude)
	}
	if alert.Type != domain.AlertSOS || alert.Severity != domain.SeverityCritical || alert.IsAcknowledged {
		t.Fatalf("unexpected alert: %+v", alert)
	}
	if alert.Title != "SOS Alert from Asha" || alert.Message != "Asha (asha@example.com) has triggered an emergency SOS alert." {
		t.Fatalf("unexpected alert text: %q / %q", alert.Title, alert.Message)
	}
	if len(alert.CaregiverUserIDs) != 1 || alert.CaregiverUserIDs[0] != caregiver.ID {
		t.Fatalf("caregiver snapshot = %v", alert.CaregiverUserIDs)
	}

	stored, _, err := mem.GetUserByID(ctx, patient.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if stored.Status != domain.StatusEmergency || stored.EmergencyTriggeredAt == nil {
		t.Fatalf("patient not in emergency: %+v", stored)
	}
}

func TestTriggerSOSUnregisteredTokenCreatesNothing(t *testing.T) {
	a, mem, pub := newTestApp(t)
	patient := seedUser(t, mem, domain.RolePatient, "Asha", "asha@example.com")
	seedDevice(t, mem, patient.ID, "abc123")

	_, err := a.TriggerSOS(context.Background(), Credential{DeviceToken: "zzz"})
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("err = %v, want ErrInvalidCredential", err)
	}
	alerts, notifications := mem.Counts()
	if alerts != 0 || notifications != 0 {
		t.Fatalf("alerts=%d notifications=%d, want none", alerts, notifications)
	}
	a.bg.Wait()
	if len(pub.on(realtime.RecipientChannel(patient.ID))) != 0 {
		t.Fatalf("no publish expected")
	}
	stored, _, _ := mem.GetUserByID(context.Background(), patient.ID)
	if stored.Status != domain.StatusNormal {
		t.Fatalf("status = %s, want normal", stored.Status)
	}
}

func TestRepeatedSOSNotifiesEveryTime(t *testing.T) {
	a, mem, pub := newTestApp(t)
	patient := seedUser(t, mem, domain.RolePatient, "Asha", "asha@example.com")
	caregiver := seedUser(t, mem, domain.RoleCaregiver, "Ravi", "ravi@example.com")
	mustLink(t, a, patient.ID, caregiver.ID)

	for i := 0; i < 3; i++ {
		if _, err := a.TriggerSOS(context.Background(), Credential{UserID: patient.ID}); err != nil {
			t.Fatalf("trigger %d: %v", i, err)
		}
	}
	alerts, notifications := mem.Counts()
	if alerts != 3 || notifications != 3 {
		t.Fatalf("alerts=%d notifications=%d, want 3 and 3", alerts, notifications)
	}
	a.bg.Wait()
	if got := len(pub.on(realtime.RecipientChannel(patient.ID))); got != 3 {
		t.Fatalf("publishes = %d, want 3", got)
	}
}

func TestAlertSnapshotIgnoresLaterLinks(t *testing.T) {
	a, mem, _ := newTestApp(t)
	ctx := context.Background()
	patient := seedUser(t, mem, domain.RolePatient, "Asha", "asha@example.com")
	c1 := seedUser(t, mem, domain.RoleCaregiver, "Ravi", "ravi@example.com")
	c2 := seedUser(t, mem, domain.RoleCaregiver, "Nina", "nina@example.com")
	mustLink(t, a, patient.ID, c1.ID)

	res, err := a.TriggerSOS(ctx, Credential{UserID: patient.ID})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	mustLink(t, a, patient.ID, c2.ID)

	alert, err := a.GetAlert(ctx, res.AlertID)
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if len(alert.CaregiverUserIDs) != 1 || alert.CaregiverUserIDs[0] != c1.ID {
		t.Fatalf("snapshot changed: %v", alert.CaregiverUserIDs)
	}
}

func TestNotificationFailureIsSkipped(t *testing.T) {
	fs := &faultyStore{MemoryStore: store.NewMemoryStore()}
	a, pub := newTestAppWithStore(t, fs)
	patient := seedUser(t, fs, domain.RolePatient, "Asha", "asha@example.com")
	c1 := seedUser(t, fs, domain.RoleCaregiver, "Ravi", "ravi@example.com")
	c2 := seedUser(t, fs, domain.RoleCaregiver, "Nina", "nina@example.com")
	mustLink(t, a, patient.ID, c1.ID)
	mustLink(t, a, patient.ID, c2.ID)
	fs.failNotificationFor = c1.ID

	res, err := a.TriggerSOS(context.Background(), Credential{UserID: patient.ID})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if res.CaregiversNotified != 1 {
		t.Fatalf("caregiversNotified = %d, want 1", res.CaregiversNotified)
	}
	alerts, notifications := fs.Counts()
	if alerts != 1 || notifications != 1 {
		t.Fatalf("alerts=%d notifications=%d, want 1 and 1", alerts, notifications)
	}
	a.bg.Wait()
	if len(pub.on(realtime.RecipientChannel(patient.ID))) != 1 {
		t.Fatalf("publish must still happen")
	}
}

func TestGraphFailureAbortsTrigger(t *testing.T) {
	fs := &faultyStore{MemoryStore: store.NewMemoryStore(), failLinks: true}
	a, pub := newTestAppWithStore(t, fs)
	patient := seedUser(t, fs, domain.RolePatient, "Asha", "asha@example.com")

	_, err := a.TriggerSOS(context.Background(), Credential{UserID: patient.ID})
	if !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("err = %v, want ErrStorageFailure", err)
	}
	alerts, _ := fs.Counts()
	if alerts != 0 {
		t.Fatalf("alerts = %d, want 0", alerts)
	}
	a.bg.Wait()
	if len(pub.on(realtime.RecipientChannel(patient.ID))) != 0 {
		t.Fatalf("no publish expected")
	}
}

func TestLocationReadFailureDegradesGracefully(t *testing.T) {
	fs := &faultyStore{MemoryStore: store.NewMemoryStore(), failLocation: true}
	a, _ := newTestAppWithStore(t, fs)
	patient := seedUser(t, fs, domain.RolePatient, "Asha", "asha@example.com")

	res, err := a.TriggerSOS(context.Background(), Credential{UserID: patient.ID})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if res.Alert.Latitude != nil || res.Alert.Longitude != nil {
		t.Fatalf("coordinates must be unset, got %+v", res.Alert)
	}
}

func TestPublishFailureIsNotSurfaced(t *testing.T) {
	a, mem, pub := newTestApp(t)
	pub.err = errors.New("transport down")
	patient := seedUser(t, mem, domain.RolePatient, "Asha", "asha@example.com")

	if _, err := a.TriggerSOS(context.Background(), Credential{UserID: patient.ID}); err != nil {
		t.Fatalf("publish failure must not fail the trigger: %v", err)
	}
	alerts, _ := mem.Counts()
	if alerts != 1 {
		t.Fatalf("alerts = %d, want 1", alerts)
	}
}

func TestTriggerVoiceTogglePublishesOnly(t *testing.T) {
	a, mem, pub := newTestApp(t)
	patient := seedUser(t, mem, domain.RolePatient, "Asha", "asha@example.com")
	seedDevice(t, mem, patient.ID, "tok-voice")

	res, err := a.TriggerVoiceToggle(context.Background(), Credential{DeviceToken: "tok-voice"})
	if err != nil {
		t.Fatalf("voice toggle: %v", err)
	}
	if res.UserID != patient.ID {
		t.Fatalf("userId = %s, want %s", res.UserID, patient.ID)
	}
	alerts, notifications := mem.Counts()
	if alerts != 0 || notifications != 0 {
		t.Fatalf("voice toggle must not persist, alerts=%d notifications=%d", alerts, notifications)
	}
	a.bg.Wait()
	events := pub.on(realtime.DeviceChannel(patient.ID))
	if len(events) != 1 || events[0].event != realtime.EventVoiceToggle {
		t.Fatalf("unexpected device events: %+v", events)
	}
	if len(pub.on(realtime.RecipientChannel(patient.ID))) != 0 {
		t.Fatalf("voice toggle must not touch the recipient channel")
	}

	if _, err := a.TriggerVoiceToggle(context.Background(), Credential{DeviceToken: "nope"}); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestAcknowledgeAlert(t *testing.T) {
	a, mem, _ := newTestApp(t)
	ctx := context.Background()
	patient := seedUser(t, mem, domain.RolePatient, "Asha", "asha@example.com")

	if _, err := a.AcknowledgeAlert(ctx, util.NewID()); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("err = %v, want ErrAlertNotFound", err)
	}

	res, err := a.TriggerSOS(ctx, Credential{UserID: patient.ID})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	for i := 0; i < 2; i++ {
		alert, err := a.AcknowledgeAlert(ctx, res.AlertID)
		if err != nil {
			t.Fatalf("ack %d: %v", i, err)
		}
		if !alert.IsAcknowledged {
			t.Fatalf("ack %d: alert not acknowledged", i)
		}
	}
	stored, _, _ := mem.GetUserByID(ctx, patient.ID)
	if stored.Status != domain.StatusEmergency {
		t.Fatalf("acknowledging must not change patient status, got %s", stored.Status)
	}
}

func TestResolveEmergency(t *testing.T) {
	a, mem, _ := newTestApp(t)
	ctx := context.Background()
	patient := seedUser(t, mem, domain.RolePatient, "Asha", "asha@example.com")
	if _, err := a.TriggerSOS(ctx, Credential{UserID: patient.ID}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	user, err := a.ResolveEmergency(ctx, patient.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if user.Status != domain.StatusNormal {
		t.Fatalf("status = %s, want normal", user.Status)
	}
	if _, err := a.ResolveEmergency(ctx, util.NewID()); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("err = %v, want ErrIdentityNotFound", err)
	}
}

func TestCreateAlertDefaultsAndValidation(t *testing.T) {
	a, mem, _ := newTestApp(t)
	ctx := context.Background()
	patient := seedUser(t, mem, domain.RolePatient, "Asha", "asha@example.com")
	caregiver := seedUser(t, mem, domain.RoleCaregiver, "Ravi", "ravi@example.com")
	mustLink(t, a, patient.ID, caregiver.ID)

	res, err := a.CreateAlert(ctx, AlertInput{RecipientID: patient.ID, Title: "Medication", Message: "Evening dose missed"})
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}
	if res.Alert.Type != domain.AlertGeneric || res.Alert.Severity != domain.SeverityInfo || res.CaregiversNotified != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	inbox, err := a.ListNotifications(ctx, caregiver.ID, 10)
	if err != nil || len(inbox) != 1 || inbox[0].Title != "Medication" {
		t.Fatalf("inbox = %+v err=%v", inbox, err)
	}
	list, err := a.ListAlerts(ctx, patient.ID, 0)
	if err != nil || len(list) != 1 {
		t.Fatalf("alerts = %+v err=%v", list, err)
	}

	tests := []struct {
		name string
		in   AlertInput
		want error
	}{
		{name: "missing title", in: AlertInput{RecipientID: patient.ID, Message: "m"}, want: ErrTitleAndMessage},
		{name: "bad severity", in: AlertInput{RecipientID: patient.ID, Title: "t", Message: "m", Severity: "LOUD"}, want: ErrInvalidSeverity},
		{name: "unknown recipient", in: AlertInput{RecipientID: util.NewID(), Title: "t", Message: "m"}, want: ErrIdentityNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := a.CreateAlert(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestNotificationsInbox(t *testing.T) {
	a, mem, _ := newTestApp(t)
	ctx := context.Background()
	caregiver := seedUser(t, mem, domain.RoleCaregiver, "Ravi", "ravi@example.com")
	other := seedUser(t, mem, domain.RoleCaregiver, "Nina", "nina@example.com")
	patient := seedUser(t, mem, domain.RolePatient, "Asha", "asha@example.com")

	n, err := a.CreateNotification(ctx, NotificationInput{UserID: caregiver.ID, Title: "Hi", Message: "Check in", RelatedPatientID: patient.ID})
	if err != nil {
		t.Fatalf("create notification: %v", err)
	}
	if n.Type != domain.AlertGeneric || n.RelatedPatientName != "Asha" || n.IsRead {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if _, err := a.MarkNotificationRead(ctx, other.ID, n.ID); !errors.Is(err, ErrNotificationNotFound) {
		t.Fatalf("err = %v, want ErrNotificationNotFound", err)
	}
	read, err := a.MarkNotificationRead(ctx, caregiver.ID, n.ID)
	if err != nil || !read.IsRead {
		t.Fatalf("mark read: %+v err=%v", read, err)
	}
	if _, err := a.CreateNotification(ctx, NotificationInput{UserID: caregiver.ID}); !errors.Is(err, ErrTitleAndMessage) {
		t.Fatalf("err = %v, want ErrTitleAndMessage", err)
	}
}
