package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"remora/internal/util"
	"remora/pkg/auth"
	"remora/pkg/domain"
	"remora/pkg/realtime"
	"remora/services/caregiver/internal/app"
)

const maxBodyBytes = 1 << 20

// RateLimiter gates the unauthenticated device endpoints.
// *ratelimit.FixedWindowLimiter satisfies it.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Hub            *realtime.Hub
	DeviceLimiter  RateLimiter
	TrustedProxies *util.TrustedProxies
	ClientOrigins  []string
}

// Server exposes HTTP endpoints for the caregiver service.
type Server struct {
	app            *app.App
	hub            *realtime.Hub
	deviceLimiter  RateLimiter
	trustedProxies *util.TrustedProxies
	clientOrigins  []string
	mux            *http.ServeMux
}

// New constructs the server with routes configured. DeviceLimiter is optional.
func New(cfg Config) *Server {
	s := &Server{
		app:            cfg.App,
		hub:            cfg.Hub,
		deviceLimiter:  cfg.DeviceLimiter,
		trustedProxies: cfg.TrustedProxies,
		clientOrigins:  cfg.ClientOrigins,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.clientOrigins)(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// accounts
	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/users/caregivers", s.authenticated(s.handleSearchCaregivers))

	// patients
	s.mux.Handle("/api/patients/connect-caregiver", s.roleOnly(domain.RolePatient, s.handleConnectCaregiver))
	s.mux.Handle("/api/patients/me/caregivers", s.roleOnly(domain.RolePatient, s.handleMyCaregivers))
	s.mux.Handle("/api/patients/me/location", s.roleOnly(domain.RolePatient, s.handleRecordLocation))
	s.mux.Handle("/api/patients/me/resolve", s.roleOnly(domain.RolePatient, s.handleResolveEmergency))
	s.mux.Handle("/api/patients/sos", s.roleOnly(domain.RolePatient, s.handlePatientSOS))

	// caregivers
	s.mux.Handle("/api/caregivers/me/patients", s.roleOnly(domain.RoleCaregiver, s.handleMyPatients))
	s.mux.Handle("/api/locations/latest", s.authenticated(s.handleLatestLocation))

	// devices (token identified, no session)
	s.mux.HandleFunc("/api/sos", s.handleDeviceSOS)
	s.mux.HandleFunc("/api/sos/voice-toggle", s.handleVoiceToggle)
	s.mux.HandleFunc("/api/sos/health", s.handleSOSHealth)
	s.mux.Handle("/api/sos/register-device", s.authenticated(s.handleRegisterDevice))

	// alerts & notifications
	s.mux.Handle("/api/alerts", s.authenticated(s.handleAlerts))
	s.mux.Handle("/api/alerts/", s.authenticated(s.handleAlertByID))
	s.mux.Handle("/api/notifications", s.authenticated(s.handleNotifications))
	s.mux.Handle("/api/notifications/", s.authenticated(s.handleNotificationByID))

	// realtime
	s.mux.Handle("/ws", realtime.NewHandler(s.hub, s, realtime.HandlerOptions{AllowedOrigins: s.clientOrigins}))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSOSHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "sos", "message": "SOS endpoint is accessible"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) roleOnly(role domain.UserRole, next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if user.Role != role {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	return s.app.UserFromToken(r.Context(), token)
}

// Authenticate accepts a bearer header or a token query parameter, since
// browsers cannot set headers on websocket upgrades.
func (s *Server) Authenticate(r *http.Request) (string, error) {
	token, ok := bearerToken(r)
	if !ok {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		return "", errors.New("missing token")
	}
	user, ok := s.app.UserFromToken(r.Context(), token)
	if !ok {
		return "", errors.New("invalid token")
	}
	return user.ID, nil
}

// AuthorizeChannel allows a user's own channels and the recipient channels of
// patients they are linked to.
func (s *Server) AuthorizeChannel(ctx context.Context, subject, channel string) error {
	switch {
	case channel == realtime.DeviceChannel(subject), channel == realtime.RecipientChannel(subject):
		return nil
	case strings.HasPrefix(channel, realtime.RecipientChannel("")):
		patientID := strings.TrimPrefix(channel, realtime.RecipientChannel(""))
		user, err := s.app.GetUser(ctx, subject)
		if err != nil {
			return err
		}
		ok, err := s.app.CanAccessPatient(ctx, user, patientID)
		if err != nil {
			return err
		}
		if !ok {
			return app.ErrForbidden
		}
		return nil
	default:
		return app.ErrForbidden
	}
}

// account handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := s.app.Register(r.Context(), app.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     domain.UserRole(req.Role),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(token); err != nil {
		util.LoggerFromContext(r.Context()).Error("logout failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleSearchCaregivers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.SearchCaregivers(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// patient handlers
func (s *Server) handleConnectCaregiver(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req connectCaregiverRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.app.ConnectCaregiver(r.Context(), user.ID, req.CaregiverCode)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Status == app.LinkConnected {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) handleMyCaregivers(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.ListCaregiversForPatient(r.Context(), user.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleRecordLocation(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req locationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, http.StatusBadRequest, "latitude and longitude are required")
		return
	}
	loc, err := s.app.RecordLocation(r.Context(), user.ID, app.LocationFix{
		Latitude:   *req.Latitude,
		Longitude:  *req.Longitude,
		Accuracy:   req.Accuracy,
		Battery:    req.Battery,
		RecordedAt: req.RecordedAt,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) handleResolveEmergency(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	updated, err := s.app.ResolveEmergency(r.Context(), user.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handlePatientSOS(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	res, err := s.app.TriggerSOS(r.Context(), app.Credential{UserID: user.ID, Device: "app"})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sosResponse{Success: true, Message: sosMessage, SOSResult: res})
}

// caregiver handlers
func (s *Server) handleMyPatients(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.ListPatientsForCaregiver(r.Context(), user.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleLatestLocation(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	patientID := strings.TrimSpace(r.URL.Query().Get("patientId"))
	if patientID == "" {
		patientID = user.ID
	}
	if !s.requirePatientAccess(w, r, user, patientID) {
		return
	}
	loc, ok, err := s.app.GetLatestLocation(r.Context(), patientID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no location recorded")
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// device handlers
func (s *Server) handleDeviceSOS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowDevice(w, r) {
		return
	}
	var req sosRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cred := deviceCredential(r, req.DeviceToken, req.UserID, req.Device)
	res, err := s.app.TriggerSOS(r.Context(), cred)
	if err != nil {
		s.auditDevice(r, "sos", err)
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sosResponse{Success: true, Message: sosMessage, SOSResult: res})
}

func (s *Server) handleVoiceToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "This endpoint only accepts POST requests. Use POST with JSON body containing 'deviceToken'.")
		return
	}
	if !s.allowDevice(w, r) {
		return
	}
	var req voiceToggleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cred := deviceCredential(r, req.DeviceToken, "", req.Device)
	if cred.DeviceToken == "" {
		writeError(w, http.StatusBadRequest, "deviceToken is required")
		return
	}
	res, err := s.app.TriggerVoiceToggle(r.Context(), cred)
	if err != nil {
		s.auditDevice(r, "voice_toggle", err)
		if errors.Is(err, app.ErrInvalidCredential) {
			writeError(w, http.StatusUnauthorized, "Invalid device token")
			return
		}
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Voice toggle sent to app",
		"userId":  res.UserID,
	})
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req registerDeviceRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cred, err := s.app.RegisterDevice(r.Context(), user.ID, req.DeviceName, req.DeviceType)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"deviceToken": cred.Token,
		"deviceName":  cred.DeviceName,
		"deviceType":  cred.DeviceType,
		"message":     "Device registered successfully. Store this token on your ESP8266.",
	})
}

// deviceCredential merges body and query credentials. Body values win; the
// resolver then prefers the device token over the user id.
func deviceCredential(r *http.Request, bodyToken, bodyUserID, device string) app.Credential {
	q := r.URL.Query()
	token := strings.TrimSpace(bodyToken)
	if token == "" {
		token = strings.TrimSpace(q.Get("deviceToken"))
	}
	userID := strings.TrimSpace(bodyUserID)
	if userID == "" {
		userID = strings.TrimSpace(q.Get("userId"))
	}
	return app.Credential{DeviceToken: token, UserID: userID, Device: strings.TrimSpace(device)}
}

// allowDevice applies the device rate limit. Limiter failures let the request
// through: a Redis outage must not block an SOS.
func (s *Server) allowDevice(w http.ResponseWriter, r *http.Request) bool {
	if s.deviceLimiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	allowed, err := s.deviceLimiter.Allow(r.Context(), key)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("device rate limiter unavailable; allowing request", "path", r.URL.Path, "err", err)
		return true
	}
	if !allowed {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return false
	}
	return true
}

func (s *Server) auditDevice(r *http.Request, event string, err error) {
	if !errors.Is(err, app.ErrInvalidCredential) && !errors.Is(err, app.ErrMissingCredential) {
		return
	}
	util.LoggerFromContext(r.Context()).Warn("security_event",
		"event", event,
		"outcome", "rejected",
		"path", r.URL.Path,
		"ip", util.ClientIP(r, s.trustedProxies),
		"reason", err.Error(),
	)
}

// alert handlers
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		recipientID := strings.TrimSpace(r.URL.Query().Get("recipientId"))
		if recipientID == "" {
			recipientID = user.ID
		}
		if !s.requirePatientAccess(w, r, user, recipientID) {
			return
		}
		items, err := s.app.ListAlerts(r.Context(), recipientID, queryLimit(r))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
	case http.MethodPost:
		var req createAlertRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		recipientID := strings.TrimSpace(req.RecipientID)
		if recipientID == "" {
			recipientID = user.ID
		}
		if !s.requirePatientAccess(w, r, user, recipientID) {
			return
		}
		res, err := s.app.CreateAlert(r.Context(), app.AlertInput{
			RecipientID: recipientID,
			Type:        domain.AlertType(req.Type),
			Severity:    domain.AlertSeverity(strings.ToUpper(strings.TrimSpace(req.Severity))),
			Title:       req.Title,
			Message:     req.Message,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAlertByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/alerts/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || action != "ack" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	alert, err := s.app.GetAlert(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if !s.requirePatientAccess(w, r, user, alert.RecipientID) {
		return
	}
	acked, err := s.app.AcknowledgeAlert(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acked)
}

// notification handlers
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.app.ListNotifications(r.Context(), user.ID, queryLimit(r))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
	case http.MethodPost:
		var req createNotificationRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		n, err := s.app.CreateNotification(r.Context(), app.NotificationInput{
			UserID:           user.ID,
			Title:            req.Title,
			Message:          req.Message,
			Type:             domain.AlertType(req.Type),
			RelatedPatientID: strings.TrimSpace(req.RelatedPatientID),
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, n)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleNotificationByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/notifications/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || action != "read" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	n, err := s.app.MarkNotificationRead(r.Context(), user.ID, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) requirePatientAccess(w http.ResponseWriter, r *http.Request, user domain.User, patientID string) bool {
	ok, err := s.app.CanAccessPatient(r.Context(), user, patientID)
	if err != nil {
		writeAppError(w, r, err)
		return false
	}
	if !ok {
		writeError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("limit")))
	if err != nil {
		return 0
	}
	return n
}

const sosMessage = "SOS received and user status updated to emergency"

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type connectCaregiverRequest struct {
	CaregiverCode string `json:"caregiverCode"`
}

type locationRequest struct {
	Latitude   *float64   `json:"latitude"`
	Longitude  *float64   `json:"longitude"`
	Accuracy   *float64   `json:"accuracy"`
	Battery    *int       `json:"battery"`
	RecordedAt *time.Time `json:"recordedAt"`
}

type sosRequest struct {
	Type        string `json:"type"`
	Device      string `json:"device"`
	Timestamp   int64  `json:"timestamp"`
	UserID      string `json:"userId"`
	DeviceToken string `json:"deviceToken"`
}

type sosResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	app.SOSResult
}

type voiceToggleRequest struct {
	Device      string `json:"device"`
	DeviceToken string `json:"deviceToken"`
}

type registerDeviceRequest struct {
	DeviceName string `json:"deviceName"`
	DeviceType string `json:"deviceType"`
}

type createAlertRequest struct {
	RecipientID string `json:"recipientId"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Message     string `json:"message"`
}

type createNotificationRequest struct {
	Title            string `json:"title"`
	Message          string `json:"message"`
	Type             string `json:"type"`
	RelatedPatientID string `json:"relatedPatientId"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// writeAppError maps service errors to HTTP statuses.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrMissingCredential):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrMalformedIdentifier):
		writeError(w, http.StatusUnauthorized, "invalid user id")
	case errors.Is(err, app.ErrInvalidCredential):
		writeError(w, http.StatusUnauthorized, "invalid device token")
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrIdentityNotFound),
		errors.Is(err, app.ErrCaregiverNotFound),
		errors.Is(err, app.ErrAlertNotFound),
		errors.Is(err, app.ErrNotificationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrSelfLinkRejected),
		errors.Is(err, app.ErrCaregiverCodeRequired),
		errors.Is(err, app.ErrInvalidCoordinates),
		errors.Is(err, app.ErrInvalidBattery),
		errors.Is(err, app.ErrTitleAndMessage),
		errors.Is(err, app.ErrInvalidSeverity),
		errors.Is(err, app.ErrEmailAndPasswordRequired),
		errors.Is(err, app.ErrNameRequired),
		errors.Is(err, app.ErrInvalidRole),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrEmailAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrStorageFailure):
		util.LoggerFromContext(r.Context()).Error("storage failure", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
