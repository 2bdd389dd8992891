package app

import (
	"context"
	"fmt"
	"strings"

	"remora/internal/util"
	"remora/pkg/auth"
	"remora/pkg/domain"
)

type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Role     domain.UserRole
}

// Register creates an account and signs it in.
func (a *App) Register(ctx context.Context, in RegisterInput) (domain.User, string, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || in.Password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.User{}, "", ErrNameRequired
	}
	role := domain.UserRole(strings.ToUpper(strings.TrimSpace(string(in.Role))))
	switch role {
	case "":
		role = domain.RoleCaregiver
	case domain.RoleCaregiver, domain.RolePatient:
	default:
		return domain.User{}, "", ErrInvalidRole
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return domain.User{}, "", err
	}

	sctx, cancel := a.storeCtx(ctx)
	exists, err := a.store.HasUserEmail(sctx, email)
	cancel()
	if err != nil {
		return domain.User{}, "", storageError("check email", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailAlreadyExists
	}
	passwordHash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	now := a.now()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         role,
		Status:       domain.StatusNormal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	sctx, cancel = a.storeCtx(ctx)
	err = a.store.CreateUser(sctx, user)
	cancel()
	if err != nil {
		return domain.User{}, "", storageError("create user", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	a.logger.Info("user registered", "user_id", user.ID, "role", user.Role)
	return user, token, nil
}

// Login verifies the password and issues a bearer token.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	sctx, cancel := a.storeCtx(ctx)
	user, ok, err := a.store.GetUserByEmail(sctx, email)
	cancel()
	if err != nil {
		return domain.User{}, "", storageError("fetch user", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Logout revokes the bearer token.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// UserFromToken authenticates a bearer token.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.getUser(ctx, uid)
	if err != nil {
		a.logger.Warn("bearer token user lookup failed", "user_id", uid, "err", err)
		return domain.User{}, false
	}
	return user, found
}
