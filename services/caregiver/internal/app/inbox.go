package app

import (
	"context"
	"strings"

	"remora/internal/util"
	"remora/pkg/domain"
)

const (
	defaultInboxLimit = 50
	maxInboxLimit     = 100
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultInboxLimit
	}
	if limit > maxInboxLimit {
		return maxInboxLimit
	}
	return limit
}

// ListAlerts returns alerts about recipientID, newest first.
func (a *App) ListAlerts(ctx context.Context, recipientID string, limit int) ([]domain.Alert, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	alerts, err := a.store.ListAlerts(sctx, recipientID, clampLimit(limit))
	if err != nil {
		return nil, storageError("list alerts", err)
	}
	return alerts, nil
}

// ListNotifications returns userID's inbox, newest first.
func (a *App) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	items, err := a.store.ListNotifications(sctx, userID, clampLimit(limit))
	if err != nil {
		return nil, storageError("list notifications", err)
	}
	return items, nil
}

type NotificationInput struct {
	UserID           string
	Title            string
	Message          string
	Type             domain.AlertType
	RelatedPatientID string
}

// CreateNotification writes a single inbox entry without fan-out.
func (a *App) CreateNotification(ctx context.Context, in NotificationInput) (domain.Notification, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Message = strings.TrimSpace(in.Message)
	if in.Title == "" || in.Message == "" {
		return domain.Notification{}, ErrTitleAndMessage
	}
	if in.Type == "" {
		in.Type = domain.AlertGeneric
	}
	n := domain.Notification{
		ID:               util.NewID(),
		UserID:           in.UserID,
		Title:            in.Title,
		Message:          in.Message,
		Type:             domain.AlertType(strings.ToUpper(string(in.Type))),
		RelatedPatientID: in.RelatedPatientID,
		CreatedAt:        a.now(),
	}
	if n.RelatedPatientID != "" {
		if patient, ok, err := a.getUser(ctx, n.RelatedPatientID); err != nil {
			return domain.Notification{}, err
		} else if ok {
			n.RelatedPatientName = patient.Name
		}
	}
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	if err := a.store.InsertNotification(sctx, n); err != nil {
		return domain.Notification{}, storageError("insert notification", err)
	}
	return n, nil
}

// MarkNotificationRead marks one of userID's notifications read. Notifications
// owned by someone else are reported as not found.
func (a *App) MarkNotificationRead(ctx context.Context, userID, notificationID string) (domain.Notification, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	n, ok, err := a.store.MarkNotificationRead(sctx, userID, notificationID)
	if err != nil {
		return domain.Notification{}, storageError("mark notification read", err)
	}
	if !ok {
		return domain.Notification{}, ErrNotificationNotFound
	}
	return n, nil
}
