package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"remora/pkg/domain"
)

// MemoryStore keeps every collection in-process. It backs tests and
// single-node demos; data is lost on restart.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	devices       map[string]domain.DeviceCredential
	links         map[string]domain.PatientCaregiverLink
	locations     map[string]domain.PatientLocation
	alerts        map[string]domain.Alert
	notifications map[string]domain.Notification
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		devices:       make(map[string]domain.DeviceCredential),
		links:         make(map[string]domain.PatientCaregiverLink),
		locations:     make(map[string]domain.PatientLocation),
		alerts:        make(map[string]domain.Alert),
		notifications: make(map[string]domain.Notification),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, u domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	_, ok, err := s.GetUserByEmail(ctx, email)
	return ok, err
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return normalizeUser(u), true, nil
		}
	}
	return domain.User{}, false, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, false, nil
	}
	return normalizeUser(u), true, nil
}

func (s *MemoryStore) SearchUsers(ctx context.Context, q UserQuery) ([]domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.User, 0)
	for _, raw := range s.users {
		u := normalizeUser(raw)
		if q.Role != "" && u.Role != q.Role {
			continue
		}
		if q.ID != "" && u.ID != q.ID {
			continue
		}
		if q.EmailExact != "" && !strings.EqualFold(u.Email, q.EmailExact) {
			continue
		}
		if q.EmailContains != "" && !strings.Contains(strings.ToLower(u.Email), strings.ToLower(q.EmailContains)) {
			continue
		}
		if q.NameContains != "" && !strings.Contains(strings.ToLower(u.Name), strings.ToLower(q.NameContains)) {
			continue
		}
		out = append(out, u)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) SetEmergencyStatus(ctx context.Context, id string, status domain.EmergencyStatus, at time.Time) (domain.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, false, nil
	}
	u.Status = status
	u.UpdatedAt = at
	if status == domain.StatusEmergency {
		triggered := at
		u.EmergencyTriggeredAt = &triggered
	}
	s.users[id] = u
	return normalizeUser(u), true, nil
}

func (s *MemoryStore) AddDeviceCredential(ctx context.Context, cred domain.DeviceCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[cred.Token] = cred
	return nil
}

func (s *MemoryStore) FindUserByDeviceToken(ctx context.Context, token string) (domain.User, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.devices[token]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := s.users[cred.UserID]
	if !ok {
		return domain.User{}, false, nil
	}
	return normalizeUser(u), true, nil
}

func (s *MemoryStore) FindLink(ctx context.Context, patientID, caregiverID string) (domain.PatientCaregiverLink, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.PatientCaregiverLink{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[linkKey(patientID, caregiverID)]
	return l, ok, nil
}

func (s *MemoryStore) InsertLink(ctx context.Context, link domain.PatientCaregiverLink) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey(link.PatientID, link.CaregiverID)
	if _, exists := s.links[key]; exists {
		return false, nil
	}
	s.links[key] = link
	return true, nil
}

func (s *MemoryStore) ListLinksByPatient(ctx context.Context, patientID string) ([]domain.PatientCaregiverLink, error) {
	return s.filterLinks(ctx, func(l domain.PatientCaregiverLink) bool { return l.PatientID == patientID })
}

func (s *MemoryStore) ListLinksByCaregiver(ctx context.Context, caregiverID string) ([]domain.PatientCaregiverLink, error) {
	return s.filterLinks(ctx, func(l domain.PatientCaregiverLink) bool { return l.CaregiverID == caregiverID })
}

func (s *MemoryStore) filterLinks(ctx context.Context, keep func(domain.PatientCaregiverLink) bool) ([]domain.PatientCaregiverLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.PatientCaregiverLink, 0)
	for _, l := range s.links {
		if l.Status == domain.LinkActive && keep(l) {
			out = append(out, l)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpsertLocation(ctx context.Context, loc domain.PatientLocation) (domain.PatientLocation, error) {
	if err := ctx.Err(); err != nil {
		return domain.PatientLocation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.locations[loc.PatientID]; ok {
		loc.CreatedAt = existing.CreatedAt
	}
	s.locations[loc.PatientID] = loc
	return loc, nil
}

func (s *MemoryStore) GetLocation(ctx context.Context, patientID string) (domain.PatientLocation, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.PatientLocation{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locations[patientID]
	return loc, ok, nil
}

func (s *MemoryStore) CountLocations(ctx context.Context, patientID string) (int, error) {
	if _, ok, err := s.GetLocation(ctx, patientID); err != nil || !ok {
		return 0, err
	}
	return 1, nil
}

func (s *MemoryStore) InsertAlert(ctx context.Context, a domain.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a.CaregiverUserIDs = append([]string{}, a.CaregiverUserIDs...)
	s.alerts[a.ID] = a
	return nil
}

func (s *MemoryStore) GetAlert(ctx context.Context, id string) (domain.Alert, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Alert{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	return a, ok, nil
}

func (s *MemoryStore) AcknowledgeAlert(ctx context.Context, id string) (domain.Alert, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Alert{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return domain.Alert{}, false, nil
	}
	a.IsAcknowledged = true
	s.alerts[id] = a
	return a, true, nil
}

func (s *MemoryStore) ListAlerts(ctx context.Context, recipientID string, limit int) ([]domain.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Alert, 0)
	for _, a := range s.alerts {
		if a.RecipientID == recipientID {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) InsertNotification(ctx context.Context, n domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.ID] = n
	return nil
}

func (s *MemoryStore) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Notification, 0)
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkNotificationRead(ctx context.Context, userID, id string) (domain.Notification, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Notification{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return domain.Notification{}, false, nil
	}
	n.IsRead = true
	s.notifications[id] = n
	return n, true, nil
}

// Counts reports collection sizes. Tests use it to assert fan-out totals.
func (s *MemoryStore) Counts() (alerts, notifications int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts), len(s.notifications)
}

func linkKey(patientID, caregiverID string) string {
	return patientID + "|" + caregiverID
}

func normalizeUser(u domain.User) domain.User {
	if u.Role == "" {
		u.Role = domain.RoleCaregiver
	}
	if u.Status == "" {
		u.Status = domain.StatusNormal
	}
	return u
}
