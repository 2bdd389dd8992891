package app

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"remora/pkg/domain"
	"remora/pkg/store"
)

// Credential is the identity assertion carried by a device request. Device is
// the free-form label the hardware reports and is echoed back, never trusted.
type Credential struct {
	DeviceToken string
	UserID      string
	Device      string
}

// ResolveStrategy is one way of turning a Credential into a patient.
// Applies reports whether the strategy owns the credential; once a strategy
// applies its outcome is final.
type ResolveStrategy interface {
	Method() domain.ResolveMethod
	Applies(cred Credential) bool
	Resolve(ctx context.Context, cred Credential) (domain.User, error)
}

// Resolver tries strategies in order. The first strategy that applies decides
// the result.
type Resolver struct {
	strategies []ResolveStrategy
}

func NewResolver(strategies ...ResolveStrategy) *Resolver {
	return &Resolver{strategies: strategies}
}

// Resolve maps cred to exactly one patient identity. It never writes.
func (r *Resolver) Resolve(ctx context.Context, cred Credential) (domain.Identity, error) {
	cred.DeviceToken = strings.TrimSpace(cred.DeviceToken)
	cred.UserID = strings.TrimSpace(cred.UserID)
	for _, s := range r.strategies {
		if !s.Applies(cred) {
			continue
		}
		user, err := s.Resolve(ctx, cred)
		if err != nil {
			return domain.Identity{}, err
		}
		return domain.Identity{
			PatientID: user.ID,
			Method:    s.Method(),
			Device:    cred.Device,
			User:      user,
		}, nil
	}
	return domain.Identity{}, ErrMissingCredential
}

type deviceTokenStrategy struct {
	users   store.Store
	timeout time.Duration
}

// DeviceTokenStrategy matches the credential's device token against
// registered device credentials.
func DeviceTokenStrategy(users store.Store, timeout time.Duration) ResolveStrategy {
	return deviceTokenStrategy{users: users, timeout: timeout}
}

func (deviceTokenStrategy) Method() domain.ResolveMethod { return domain.ResolvedByDeviceToken }

func (deviceTokenStrategy) Applies(cred Credential) bool { return cred.DeviceToken != "" }

func (s deviceTokenStrategy) Resolve(ctx context.Context, cred Credential) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	user, ok, err := s.users.FindUserByDeviceToken(ctx, cred.DeviceToken)
	if err != nil {
		return domain.User{}, storageError("find device token", err)
	}
	if !ok {
		return domain.User{}, ErrInvalidCredential
	}
	return user, nil
}

type userIDStrategy struct {
	users   store.Store
	timeout time.Duration
}

// UserIDStrategy resolves an explicit user id.
func UserIDStrategy(users store.Store, timeout time.Duration) ResolveStrategy {
	return userIDStrategy{users: users, timeout: timeout}
}

func (userIDStrategy) Method() domain.ResolveMethod { return domain.ResolvedByUserID }

func (userIDStrategy) Applies(cred Credential) bool { return cred.UserID != "" }

func (s userIDStrategy) Resolve(ctx context.Context, cred Credential) (domain.User, error) {
	id, err := uuid.Parse(cred.UserID)
	if err != nil {
		return domain.User{}, ErrMalformedIdentifier
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	user, ok, err := s.users.GetUserByID(ctx, id.String())
	if err != nil {
		return domain.User{}, storageError("get user", err)
	}
	if !ok {
		return domain.User{}, ErrIdentityNotFound
	}
	return user, nil
}

// ResolveIdentity exposes the configured resolver.
func (a *App) ResolveIdentity(ctx context.Context, cred Credential) (domain.Identity, error) {
	return a.resolver.Resolve(ctx, cred)
}
