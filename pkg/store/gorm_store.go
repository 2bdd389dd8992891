package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"remora/pkg/domain"
)

const migrateLockID int64 = 51730417

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type GormStoreOptions struct {
	Driver   string
	LogLevel gormlogger.LogLevel
}

type GormStoreOption func(*GormStoreOptions)

// WithDriver selects the SQL dialect. Defaults to postgres.
func WithDriver(driver string) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.Driver = driver
	}
}

// WithLogLevel overrides the GORM logger level (Warn by default).
func WithLogLevel(level gormlogger.LogLevel) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.LogLevel = level
	}
}

// GormStore implements Store using GORM on Postgres or SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{Driver: DriverPostgres, LogLevel: gormlogger.Warn}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  opts.LogLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&DeviceCredentialModel{},
			&LinkModel{},
			&LocationModel{},
			&AlertModel{},
			&NotificationModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if dialector.Name() == DriverPostgres {
		err = withMigrationLock(db, migrate)
	} else {
		// SQLite serialises writers; one connection keeps ":memory:" databases coherent.
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return nil, fmt.Errorf("get sql db: %w", dbErr)
		}
		sqlDB.SetMaxOpenConns(1)
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// users

func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	m := userToModel(u)
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("LOWER(email) = ?", strings.ToLower(email)).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var m UserModel
	err := s.db.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(email)).First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	return userFromModel(m), true, nil
}

func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var m UserModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	return userFromModel(m), true, nil
}

func (s *GormStore) SearchUsers(ctx context.Context, q UserQuery) ([]domain.User, error) {
	tx := s.db.WithContext(ctx).Model(&UserModel{})
	switch q.Role {
	case "":
	case domain.RoleCaregiver:
		// Legacy rows without a role read back as caregivers.
		tx = tx.Where("(role = ? OR role = '' OR role IS NULL)", string(q.Role))
	default:
		tx = tx.Where("role = ?", string(q.Role))
	}
	if q.ID != "" {
		tx = tx.Where("id = ?", q.ID)
	}
	if q.EmailExact != "" {
		tx = tx.Where("LOWER(email) = ?", strings.ToLower(q.EmailExact))
	}
	if q.EmailContains != "" {
		tx = tx.Where(`LOWER(email) LIKE ? ESCAPE '\'`, likePattern(q.EmailContains))
	}
	if q.NameContains != "" {
		tx = tx.Where(`LOWER(name) LIKE ? ESCAPE '\'`, likePattern(q.NameContains))
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var models []UserModel
	if err := tx.Order("email asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(models))
	for _, m := range models {
		out = append(out, userFromModel(m))
	}
	return out, nil
}

func (s *GormStore) SetEmergencyStatus(ctx context.Context, id string, status domain.EmergencyStatus, at time.Time) (domain.User, bool, error) {
	updates := map[string]any{
		"status":     string(status),
		"updated_at": at,
	}
	if status == domain.StatusEmergency {
		updates["emergency_triggered_at"] = at
	}
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return domain.User{}, false, err
	}
	return s.GetUserByID(ctx, id)
}

// device credentials

func (s *GormStore) AddDeviceCredential(ctx context.Context, cred domain.DeviceCredential) error {
	m := DeviceCredentialModel{
		Token:        cred.Token,
		UserID:       cred.UserID,
		DeviceName:   cred.DeviceName,
		DeviceType:   cred.DeviceType,
		RegisteredAt: cred.RegisteredAt,
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) FindUserByDeviceToken(ctx context.Context, token string) (domain.User, bool, error) {
	var cred DeviceCredentialModel
	err := s.db.WithContext(ctx).First(&cred, "token = ?", token).Error
	if err == gorm.ErrRecordNotFound {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	return s.GetUserByID(ctx, cred.UserID)
}

// links

func (s *GormStore) FindLink(ctx context.Context, patientID, caregiverID string) (domain.PatientCaregiverLink, bool, error) {
	var m LinkModel
	err := s.db.WithContext(ctx).
		Where("patient_id = ? AND caregiver_id = ?", patientID, caregiverID).
		First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return domain.PatientCaregiverLink{}, false, nil
	}
	if err != nil {
		return domain.PatientCaregiverLink{}, false, err
	}
	return linkFromModel(m), true, nil
}

// InsertLink reports false when the pair already exists.
func (s *GormStore) InsertLink(ctx context.Context, link domain.PatientCaregiverLink) (bool, error) {
	m := linkToModel(link)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) ListLinksByPatient(ctx context.Context, patientID string) ([]domain.PatientCaregiverLink, error) {
	return s.listLinks(ctx, "patient_id = ? AND status = ?", patientID, string(domain.LinkActive))
}

func (s *GormStore) ListLinksByCaregiver(ctx context.Context, caregiverID string) ([]domain.PatientCaregiverLink, error) {
	return s.listLinks(ctx, "caregiver_id = ? AND status = ?", caregiverID, string(domain.LinkActive))
}

func (s *GormStore) listLinks(ctx context.Context, query string, args ...any) ([]domain.PatientCaregiverLink, error) {
	var models []LinkModel
	if err := s.db.WithContext(ctx).Where(query, args...).Order("created_at asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.PatientCaregiverLink, 0, len(models))
	for _, m := range models {
		out = append(out, linkFromModel(m))
	}
	return out, nil
}

// locations

// UpsertLocation replaces every field except CreatedAt when the patient row exists.
func (s *GormStore) UpsertLocation(ctx context.Context, loc domain.PatientLocation) (domain.PatientLocation, error) {
	m := locationToModel(loc)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "patient_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"latitude", "longitude", "accuracy", "battery", "recorded_at", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return domain.PatientLocation{}, err
	}
	stored, ok, err := s.GetLocation(ctx, loc.PatientID)
	if err != nil {
		return domain.PatientLocation{}, err
	}
	if !ok {
		return domain.PatientLocation{}, fmt.Errorf("location for %s vanished after upsert", loc.PatientID)
	}
	return stored, nil
}

func (s *GormStore) GetLocation(ctx context.Context, patientID string) (domain.PatientLocation, bool, error) {
	var m LocationModel
	err := s.db.WithContext(ctx).First(&m, "patient_id = ?", patientID).Error
	if err == gorm.ErrRecordNotFound {
		return domain.PatientLocation{}, false, nil
	}
	if err != nil {
		return domain.PatientLocation{}, false, err
	}
	return locationFromModel(m), true, nil
}

func (s *GormStore) CountLocations(ctx context.Context, patientID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&LocationModel{}).Where("patient_id = ?", patientID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// alerts

func (s *GormStore) InsertAlert(ctx context.Context, a domain.Alert) error {
	m, err := alertToModel(a)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) GetAlert(ctx context.Context, id string) (domain.Alert, bool, error) {
	var m AlertModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return domain.Alert{}, false, nil
	}
	if err != nil {
		return domain.Alert{}, false, err
	}
	return alertFromModel(m), true, nil
}

func (s *GormStore) AcknowledgeAlert(ctx context.Context, id string) (domain.Alert, bool, error) {
	if err := s.db.WithContext(ctx).Model(&AlertModel{}).Where("id = ?", id).Update("is_acknowledged", true).Error; err != nil {
		return domain.Alert{}, false, err
	}
	return s.GetAlert(ctx, id)
}

func (s *GormStore) ListAlerts(ctx context.Context, recipientID string, limit int) ([]domain.Alert, error) {
	tx := s.db.WithContext(ctx).Where("recipient_id = ?", recipientID).Order("created_at desc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var models []AlertModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Alert, 0, len(models))
	for _, m := range models {
		out = append(out, alertFromModel(m))
	}
	return out, nil
}

// notifications

func (s *GormStore) InsertNotification(ctx context.Context, n domain.Notification) error {
	m := notificationToModel(n)
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	tx := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var models []NotificationModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Notification, 0, len(models))
	for _, m := range models {
		out = append(out, notificationFromModel(m))
	}
	return out, nil
}

func (s *GormStore) MarkNotificationRead(ctx context.Context, userID, id string) (domain.Notification, bool, error) {
	if err := s.db.WithContext(ctx).Model(&NotificationModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true).Error; err != nil {
		return domain.Notification{}, false, err
	}
	var m NotificationModel
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return domain.Notification{}, false, nil
	}
	if err != nil {
		return domain.Notification{}, false, err
	}
	return notificationFromModel(m), true, nil
}

func likePattern(fragment string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(fragment)) + "%"
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:                   u.ID,
		Email:                u.Email,
		Name:                 u.Name,
		PasswordHash:         u.PasswordHash,
		Role:                 string(u.Role),
		Status:               string(u.Status),
		EmergencyTriggeredAt: u.EmergencyTriggeredAt,
		CreatedAt:            u.CreatedAt,
		UpdatedAt:            u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleCaregiver
	}
	status := domain.EmergencyStatus(m.Status)
	if status == "" {
		status = domain.StatusNormal
	}
	return domain.User{
		ID:                   m.ID,
		Email:                m.Email,
		Name:                 m.Name,
		PasswordHash:         m.PasswordHash,
		Role:                 role,
		Status:               status,
		EmergencyTriggeredAt: m.EmergencyTriggeredAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func linkToModel(l domain.PatientCaregiverLink) LinkModel {
	return LinkModel{
		ID:          l.ID,
		PatientID:   l.PatientID,
		CaregiverID: l.CaregiverID,
		Status:      string(l.Status),
		CreatedAt:   l.CreatedAt,
	}
}

func linkFromModel(m LinkModel) domain.PatientCaregiverLink {
	return domain.PatientCaregiverLink{
		ID:          m.ID,
		PatientID:   m.PatientID,
		CaregiverID: m.CaregiverID,
		Status:      domain.LinkStatus(m.Status),
		CreatedAt:   m.CreatedAt,
	}
}

func locationToModel(l domain.PatientLocation) LocationModel {
	return LocationModel{
		PatientID:  l.PatientID,
		Latitude:   l.Latitude,
		Longitude:  l.Longitude,
		Accuracy:   l.Accuracy,
		Battery:    l.Battery,
		RecordedAt: l.RecordedAt,
		UpdatedAt:  l.UpdatedAt,
		CreatedAt:  l.CreatedAt,
	}
}

func locationFromModel(m LocationModel) domain.PatientLocation {
	return domain.PatientLocation{
		PatientID:  m.PatientID,
		Latitude:   m.Latitude,
		Longitude:  m.Longitude,
		Accuracy:   m.Accuracy,
		Battery:    m.Battery,
		RecordedAt: m.RecordedAt,
		UpdatedAt:  m.UpdatedAt,
		CreatedAt:  m.CreatedAt,
	}
}

func alertToModel(a domain.Alert) (AlertModel, error) {
	ids := a.CaregiverUserIDs
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return AlertModel{}, fmt.Errorf("encode caregiver ids: %w", err)
	}
	return AlertModel{
		ID:               a.ID,
		RecipientID:      a.RecipientID,
		Type:             string(a.Type),
		Severity:         string(a.Severity),
		Title:            a.Title,
		Message:          a.Message,
		IsAcknowledged:   a.IsAcknowledged,
		CaregiverUserIDs: raw,
		Latitude:         a.Latitude,
		Longitude:        a.Longitude,
		CreatedAt:        a.CreatedAt,
	}, nil
}

func alertFromModel(m AlertModel) domain.Alert {
	ids := []string{}
	if len(m.CaregiverUserIDs) > 0 {
		_ = json.Unmarshal(m.CaregiverUserIDs, &ids)
	}
	return domain.Alert{
		ID:               m.ID,
		RecipientID:      m.RecipientID,
		Type:             domain.AlertType(m.Type),
		Severity:         domain.AlertSeverity(m.Severity),
		Title:            m.Title,
		Message:          m.Message,
		IsAcknowledged:   m.IsAcknowledged,
		CaregiverUserIDs: ids,
		Latitude:         m.Latitude,
		Longitude:        m.Longitude,
		CreatedAt:        m.CreatedAt,
	}
}

func notificationToModel(n domain.Notification) NotificationModel {
	return NotificationModel{
		ID:                 n.ID,
		UserID:             n.UserID,
		Title:              n.Title,
		Message:            n.Message,
		Type:               string(n.Type),
		IsRead:             n.IsRead,
		RelatedPatientID:   n.RelatedPatientID,
		RelatedPatientName: n.RelatedPatientName,
		Latitude:           n.Latitude,
		Longitude:          n.Longitude,
		CreatedAt:          n.CreatedAt,
	}
}

func notificationFromModel(m NotificationModel) domain.Notification {
	return domain.Notification{
		ID:                 m.ID,
		UserID:             m.UserID,
		Title:              m.Title,
		Message:            m.Message,
		Type:               domain.AlertType(m.Type),
		IsRead:             m.IsRead,
		RelatedPatientID:   m.RelatedPatientID,
		RelatedPatientName: m.RelatedPatientName,
		Latitude:           m.Latitude,
		Longitude:          m.Longitude,
		CreatedAt:          m.CreatedAt,
	}
}
