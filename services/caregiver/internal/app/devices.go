package app

import (
	"context"
	"fmt"
	"strings"

	"remora/pkg/auth"
	"remora/pkg/domain"
)

const (
	defaultDeviceName = "ESP8266"
	defaultDeviceType = "esp8266"
)

// RegisterDevice issues a new device token bound to userID. A user may hold
// any number of tokens; earlier ones stay valid.
func (a *App) RegisterDevice(ctx context.Context, userID, name, deviceType string) (domain.DeviceCredential, error) {
	if _, ok, err := a.getUser(ctx, userID); err != nil {
		return domain.DeviceCredential{}, err
	} else if !ok {
		return domain.DeviceCredential{}, ErrIdentityNotFound
	}

	token, err := auth.NewDeviceToken()
	if err != nil {
		return domain.DeviceCredential{}, fmt.Errorf("generate device token: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultDeviceName
	}
	deviceType = strings.TrimSpace(deviceType)
	if deviceType == "" {
		deviceType = defaultDeviceType
	}
	cred := domain.DeviceCredential{
		UserID:       userID,
		Token:        token,
		DeviceName:   name,
		DeviceType:   deviceType,
		RegisteredAt: a.now(),
	}
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	if err := a.store.AddDeviceCredential(sctx, cred); err != nil {
		return domain.DeviceCredential{}, storageError("add device credential", err)
	}
	a.logger.Info("device registered", "user_id", userID, "device_name", name, "device_type", deviceType)
	return cred, nil
}
