package app

import (
	"context"
	"strings"
	"time"

	"remora/internal/util"
	"remora/pkg/domain"
	"remora/pkg/store"
)

const caregiverSearchLimit = 50

type LinkStatus string

const (
	LinkConnected        LinkStatus = "CONNECTED"
	LinkAlreadyConnected LinkStatus = "ALREADY_CONNECTED"
)

// LinkResult reports the edge between a patient and a caregiver. An existing
// edge is a successful result, not an error.
type LinkResult struct {
	Status    LinkStatus                  `json:"status"`
	Link      domain.PatientCaregiverLink `json:"link"`
	Caregiver CaregiverView               `json:"caregiver"`
}

type CaregiverView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
}

type PatientView struct {
	ID                   string                  `json:"id"`
	Name                 string                  `json:"name"`
	Email                string                  `json:"email"`
	Status               domain.EmergencyStatus  `json:"status"`
	EmergencyTriggeredAt *time.Time              `json:"emergencyTriggeredAt,omitempty"`
	ConnectedAt          time.Time               `json:"connectedAt"`
	Location             *domain.PatientLocation `json:"location,omitempty"`
}

func caregiverView(u domain.User) CaregiverView {
	return CaregiverView{ID: u.ID, Name: u.Name, Email: u.Email}
}

// LinkPatientToCaregiver inserts an ACTIVE edge unless the pair is already linked.
func (a *App) LinkPatientToCaregiver(ctx context.Context, patientID, caregiverID string) (LinkResult, error) {
	patientID = strings.TrimSpace(patientID)
	caregiverID = strings.TrimSpace(caregiverID)
	if patientID == caregiverID {
		return LinkResult{}, ErrSelfLinkRejected
	}

	caregiver, ok, err := a.getUser(ctx, caregiverID)
	if err != nil {
		return LinkResult{}, err
	}
	if !ok || caregiver.Role != domain.RoleCaregiver {
		return LinkResult{}, ErrCaregiverNotFound
	}
	if _, ok, err := a.getUser(ctx, patientID); err != nil {
		return LinkResult{}, err
	} else if !ok {
		return LinkResult{}, ErrIdentityNotFound
	}

	existing, found, err := a.findLink(ctx, patientID, caregiverID)
	if err != nil {
		return LinkResult{}, err
	}
	if found {
		return LinkResult{Status: LinkAlreadyConnected, Link: existing, Caregiver: caregiverView(caregiver)}, nil
	}

	link := domain.PatientCaregiverLink{
		ID:          util.NewID(),
		PatientID:   patientID,
		CaregiverID: caregiverID,
		Status:      domain.LinkActive,
		CreatedAt:   a.now(),
	}
	sctx, cancel := a.storeCtx(ctx)
	created, err := a.store.InsertLink(sctx, link)
	cancel()
	if err != nil {
		return LinkResult{}, storageError("insert link", err)
	}
	if !created {
		// Lost a race with a concurrent link of the same pair.
		existing, found, err := a.findLink(ctx, patientID, caregiverID)
		if err != nil {
			return LinkResult{}, err
		}
		if found {
			link = existing
		}
		return LinkResult{Status: LinkAlreadyConnected, Link: link, Caregiver: caregiverView(caregiver)}, nil
	}
	a.logger.Info("caregiver linked", "patient_id", patientID, "caregiver_id", caregiverID)
	return LinkResult{Status: LinkConnected, Link: link, Caregiver: caregiverView(caregiver)}, nil
}

// ConnectCaregiver links patientID to the first caregiver matching code, which
// may be an email, an email fragment, or a caregiver id.
func (a *App) ConnectCaregiver(ctx context.Context, patientID, code string) (LinkResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return LinkResult{}, ErrCaregiverCodeRequired
	}
	matches, err := a.searchCaregivers(ctx, code, false)
	if err != nil {
		return LinkResult{}, err
	}
	if len(matches) == 0 {
		return LinkResult{}, ErrCaregiverNotFound
	}
	return a.LinkPatientToCaregiver(ctx, patientID, matches[0].ID)
}

// SearchCaregivers finds caregivers by exact email, email fragment, id, and
// finally name fragment. The first non-empty shape wins. An empty query lists
// caregivers.
func (a *App) SearchCaregivers(ctx context.Context, query string) ([]CaregiverView, error) {
	users, err := a.searchCaregivers(ctx, strings.TrimSpace(query), true)
	if err != nil {
		return nil, err
	}
	out := make([]CaregiverView, 0, len(users))
	for _, u := range users {
		out = append(out, caregiverView(u))
	}
	return out, nil
}

func (a *App) searchCaregivers(ctx context.Context, query string, byName bool) ([]domain.User, error) {
	var shapes []store.UserQuery
	if query == "" {
		if !byName {
			return nil, nil
		}
		shapes = append(shapes, store.UserQuery{})
	} else {
		shapes = append(shapes,
			store.UserQuery{EmailExact: query},
			store.UserQuery{EmailContains: query},
		)
		if util.ValidID(query) {
			shapes = append(shapes, store.UserQuery{ID: strings.ToLower(query)})
		}
		if byName {
			shapes = append(shapes, store.UserQuery{NameContains: query})
		}
	}
	for _, q := range shapes {
		q.Role = domain.RoleCaregiver
		q.Limit = caregiverSearchLimit
		sctx, cancel := a.storeCtx(ctx)
		users, err := a.store.SearchUsers(sctx, q)
		cancel()
		if err != nil {
			return nil, storageError("search caregivers", err)
		}
		if len(users) > 0 {
			return users, nil
		}
	}
	return nil, nil
}

// ListCaregiversForPatient returns every caregiver linked to patientID.
func (a *App) ListCaregiversForPatient(ctx context.Context, patientID string) ([]CaregiverView, error) {
	sctx, cancel := a.storeCtx(ctx)
	links, err := a.store.ListLinksByPatient(sctx, patientID)
	cancel()
	if err != nil {
		return nil, storageError("list links", err)
	}
	out := make([]CaregiverView, 0, len(links))
	for _, link := range links {
		user, ok, err := a.getUser(ctx, link.CaregiverID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		view := caregiverView(user)
		connectedAt := link.CreatedAt
		view.ConnectedAt = &connectedAt
		out = append(out, view)
	}
	return out, nil
}

// ListPatientsForCaregiver returns the caregiver's patients with their latest
// known location.
func (a *App) ListPatientsForCaregiver(ctx context.Context, caregiverID string) ([]PatientView, error) {
	sctx, cancel := a.storeCtx(ctx)
	links, err := a.store.ListLinksByCaregiver(sctx, caregiverID)
	cancel()
	if err != nil {
		return nil, storageError("list links", err)
	}
	out := make([]PatientView, 0, len(links))
	for _, link := range links {
		user, ok, err := a.getUser(ctx, link.PatientID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		view := PatientView{
			ID:                   user.ID,
			Name:                 user.Name,
			Email:                user.Email,
			Status:               user.Status,
			EmergencyTriggeredAt: user.EmergencyTriggeredAt,
			ConnectedAt:          link.CreatedAt,
		}
		loc, found, err := a.GetLatestLocation(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		if found {
			view.Location = &loc
		}
		out = append(out, view)
	}
	return out, nil
}

// CanAccessPatient reports whether user may read patientID's data: the patient
// themselves or a linked caregiver.
func (a *App) CanAccessPatient(ctx context.Context, user domain.User, patientID string) (bool, error) {
	if user.ID == patientID {
		return true, nil
	}
	if user.Role != domain.RoleCaregiver {
		return false, nil
	}
	_, found, err := a.findLink(ctx, patientID, user.ID)
	return found, err
}

func (a *App) caregiversOf(ctx context.Context, patientID string) ([]string, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	links, err := a.store.ListLinksByPatient(sctx, patientID)
	if err != nil {
		return nil, storageError("list links", err)
	}
	ids := make([]string, 0, len(links))
	seen := make(map[string]struct{}, len(links))
	for _, link := range links {
		if link.Status != domain.LinkActive {
			continue
		}
		if _, dup := seen[link.CaregiverID]; dup {
			continue
		}
		seen[link.CaregiverID] = struct{}{}
		ids = append(ids, link.CaregiverID)
	}
	return ids, nil
}

func (a *App) findLink(ctx context.Context, patientID, caregiverID string) (domain.PatientCaregiverLink, bool, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	link, ok, err := a.store.FindLink(sctx, patientID, caregiverID)
	if err != nil {
		return domain.PatientCaregiverLink{}, false, storageError("find link", err)
	}
	return link, ok, nil
}

func (a *App) getUser(ctx context.Context, id string) (domain.User, bool, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	user, ok, err := a.store.GetUserByID(sctx, id)
	if err != nil {
		return domain.User{}, false, storageError("get user", err)
	}
	return user, ok, nil
}

// GetUser returns the user with id or ErrIdentityNotFound.
func (a *App) GetUser(ctx context.Context, id string) (domain.User, error) {
	user, ok, err := a.getUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrIdentityNotFound
	}
	return user, nil
}
