package app

import (
	"context"
	"math"
	"time"

	"remora/pkg/domain"
	"remora/pkg/realtime"
)

// LocationFix is one position report. RecordedAt defaults to server time.
type LocationFix struct {
	Latitude   float64
	Longitude  float64
	Accuracy   *float64
	Battery    *int
	RecordedAt *time.Time
}

func (f LocationFix) validate() error {
	if math.IsNaN(f.Latitude) || math.IsNaN(f.Longitude) ||
		f.Latitude < -90 || f.Latitude > 90 || f.Longitude < -180 || f.Longitude > 180 {
		return ErrInvalidCoordinates
	}
	if f.Battery != nil && (*f.Battery < 0 || *f.Battery > 100) {
		return ErrInvalidBattery
	}
	return nil
}

// RecordLocation replaces the patient's latest location. The first write sets
// createdAt; later writes keep it.
func (a *App) RecordLocation(ctx context.Context, patientID string, fix LocationFix) (domain.PatientLocation, error) {
	if err := fix.validate(); err != nil {
		return domain.PatientLocation{}, err
	}
	if _, ok, err := a.getUser(ctx, patientID); err != nil {
		return domain.PatientLocation{}, err
	} else if !ok {
		return domain.PatientLocation{}, ErrIdentityNotFound
	}

	now := a.now()
	recordedAt := now
	if fix.RecordedAt != nil && !fix.RecordedAt.IsZero() {
		recordedAt = fix.RecordedAt.UTC()
	}
	loc := domain.PatientLocation{
		PatientID:  patientID,
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		Accuracy:   fix.Accuracy,
		Battery:    fix.Battery,
		RecordedAt: recordedAt,
		UpdatedAt:  now,
		CreatedAt:  now,
	}
	sctx, cancel := a.storeCtx(ctx)
	stored, err := a.store.UpsertLocation(sctx, loc)
	cancel()
	if err != nil {
		return domain.PatientLocation{}, storageError("upsert location", err)
	}
	a.publishAsync(realtime.RecipientChannel(patientID), realtime.EventLocationNew, stored)
	return stored, nil
}

// GetLatestLocation returns the patient's latest location, if any.
func (a *App) GetLatestLocation(ctx context.Context, patientID string) (domain.PatientLocation, bool, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	loc, ok, err := a.store.GetLocation(sctx, patientID)
	if err != nil {
		return domain.PatientLocation{}, false, storageError("get location", err)
	}
	return loc, ok, nil
}
