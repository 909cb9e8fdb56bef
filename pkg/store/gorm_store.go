package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"strategylab/internal/util"
	"strategylab/pkg/domain"
)

const migrateLockID int64 = 48091211

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &SessionModel{}, &ModuleResponseModel{}, &FinalDocumentModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
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

// UpsertUser registers a user on first sight and refreshes name and
// last-seen on subsequent calls.
func (s *GormStore) UpsertUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "last_seen_at"}),
	}).Create(&model).Error
}

// GetUser returns a user by ID.
func (s *GormStore) GetUser(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetOrCreateSession returns the latest session for the user, creating a
// fresh one when none exists. The latest row is the canonical session;
// a concurrent duplicate insert is tolerated by that convention.
func (s *GormStore) GetOrCreateSession(userID string) (domain.Session, error) {
	var model SessionModel
	err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&model).Error
	if err == nil {
		now := time.Now().UTC()
		if err := s.db.Model(&SessionModel{}).Where("id = ?", model.ID).
			Update("updated_at", now).Error; err != nil {
			return domain.Session{}, err
		}
		model.UpdatedAt = now
		return sessionFromModel(model), nil
	}
	if err != gorm.ErrRecordNotFound {
		return domain.Session{}, err
	}
	now := time.Now().UTC()
	model = SessionModel{
		ID:               util.NewID(),
		UserID:           userID,
		CurrentModule:    0,
		CompletionStatus: 0,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Session{}, err
	}
	return sessionFromModel(model), nil
}

// GetSession returns one session by ID.
func (s *GormStore) GetSession(id string) (domain.Session, bool, error) {
	var model SessionModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, err
	}
	return sessionFromModel(model), true, nil
}

// UpdateSession applies the supplied progression fields.
func (s *GormStore) UpdateSession(id string, patch domain.SessionPatch) error {
	updates := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if patch.CurrentModule != nil {
		updates["current_module"] = *patch.CurrentModule
	}
	if patch.CompletionStatus != nil {
		updates["completion_status"] = *patch.CompletionStatus
	}
	res := s.db.Model(&SessionModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetModuleResponse returns the response for one (session, module) pair.
func (s *GormStore) GetModuleResponse(sessionID string, moduleNumber int) (domain.ModuleResponse, bool, error) {
	var model ModuleResponseModel
	err := s.db.Where("session_id = ? AND module_number = ?", sessionID, moduleNumber).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ModuleResponse{}, false, nil
		}
		return domain.ModuleResponse{}, false, err
	}
	return moduleResponseFromModel(model), true, nil
}

// SaveModuleResponse upserts by (session, module), merging supplied fields
// over any existing row. Last writer wins; the product has no concurrent
// editing SLA.
func (s *GormStore) SaveModuleResponse(patch domain.ModuleResponsePatch) (string, error) {
	existing, found, err := s.GetModuleResponse(patch.SessionID, patch.ModuleNumber)
	if err != nil {
		return "", err
	}
	merged, err := mergeModuleResponse(existing, found, patch)
	if err != nil {
		return "", err
	}
	model := moduleResponseToModel(merged)
	err = s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}, {Name: "module_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"input_method", "ai_transcript", "form_data", "audit_review", "completed_at", "updated_at",
		}),
	}).Create(&model).Error
	if err != nil {
		return "", err
	}
	return merged.ID, nil
}

// ListModuleResponses returns all responses for a session ordered by module.
func (s *GormStore) ListModuleResponses(sessionID string) ([]domain.ModuleResponse, error) {
	return s.listModuleResponses("session_id = ?", sessionID)
}

// ListCompletedModuleResponses returns finalized responses ordered by module.
func (s *GormStore) ListCompletedModuleResponses(sessionID string) ([]domain.ModuleResponse, error) {
	return s.listModuleResponses("session_id = ? AND completed_at IS NOT NULL", sessionID)
}

func (s *GormStore) listModuleResponses(cond string, args ...any) ([]domain.ModuleResponse, error) {
	var models []ModuleResponseModel
	if err := s.db.Where(cond, args...).Order("module_number ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ModuleResponse, 0, len(models))
	for _, m := range models {
		res = append(res, moduleResponseFromModel(m))
	}
	return res, nil
}

// GetFinalDocument returns the final documents for a session.
func (s *GormStore) GetFinalDocument(sessionID string) (domain.FinalDocument, bool, error) {
	var model FinalDocumentModel
	if err := s.db.Where("session_id = ?", sessionID).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.FinalDocument{}, false, nil
		}
		return domain.FinalDocument{}, false, err
	}
	return finalDocumentFromModel(model), true, nil
}

// SaveFinalDocument upserts the single final-document row per session.
func (s *GormStore) SaveFinalDocument(doc domain.FinalDocument) (string, error) {
	if doc.ID == "" {
		existing, found, err := s.GetFinalDocument(doc.SessionID)
		if err != nil {
			return "", err
		}
		if found {
			doc.ID = existing.ID
		} else {
			doc.ID = util.NewID()
		}
	}
	model := finalDocumentToModel(doc)
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"combined_overview", "action_plan", "generated_at"}),
	}).Create(&model).Error
	if err != nil {
		return "", err
	}
	return doc.ID, nil
}

// mergeModuleResponse applies merge semantics: a save only overwrites the
// fields it supplies, otherwise keeps prior values. The input method must be
// resolvable from the patch or the existing row.
func mergeModuleResponse(existing domain.ModuleResponse, found bool, patch domain.ModuleResponsePatch) (domain.ModuleResponse, error) {
	now := time.Now().UTC()
	merged := existing
	if !found {
		merged = domain.ModuleResponse{
			ID:           util.NewID(),
			SessionID:    patch.SessionID,
			ModuleNumber: patch.ModuleNumber,
			CreatedAt:    now,
		}
	}
	if patch.InputMethod != "" {
		if !patch.InputMethod.Valid() {
			return domain.ModuleResponse{}, fmt.Errorf("input method %q: %w", patch.InputMethod, ErrMissingField)
		}
		merged.InputMethod = patch.InputMethod
	}
	if merged.InputMethod == "" {
		return domain.ModuleResponse{}, fmt.Errorf("input method: %w", ErrMissingField)
	}
	if len(patch.AITranscript) > 0 {
		merged.AITranscript = patch.AITranscript
	}
	if len(patch.FormData) > 0 {
		merged.FormData = patch.FormData
	}
	if patch.AuditReview != "" {
		merged.AuditReview = patch.AuditReview
	}
	if patch.CompletedAt != nil {
		merged.CompletedAt = patch.CompletedAt
	}
	merged.UpdatedAt = now
	return merged, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		CreatedAt:  u.CreatedAt,
		LastSeenAt: u.LastSeenAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:         m.ID,
		Email:      m.Email,
		Name:       m.Name,
		CreatedAt:  m.CreatedAt,
		LastSeenAt: m.LastSeenAt,
	}
}

func sessionFromModel(m SessionModel) domain.Session {
	return domain.Session{
		ID:               m.ID,
		UserID:           m.UserID,
		CurrentModule:    m.CurrentModule,
		CompletionStatus: m.CompletionStatus,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func moduleResponseToModel(r domain.ModuleResponse) ModuleResponseModel {
	var transcript []byte
	if len(r.AITranscript) > 0 {
		transcript, _ = json.Marshal(r.AITranscript)
	}
	var form []byte
	if len(r.FormData) > 0 {
		form, _ = json.Marshal(r.FormData)
	}
	return ModuleResponseModel{
		ID:           r.ID,
		SessionID:    r.SessionID,
		ModuleNumber: r.ModuleNumber,
		InputMethod:  string(r.InputMethod),
		AITranscript: transcript,
		FormData:     form,
		AuditReview:  r.AuditReview,
		CompletedAt:  r.CompletedAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func moduleResponseFromModel(m ModuleResponseModel) domain.ModuleResponse {
	var transcript []domain.ChatMessage
	if len(m.AITranscript) > 0 {
		_ = json.Unmarshal(m.AITranscript, &transcript)
	}
	var form map[string]string
	if len(m.FormData) > 0 {
		_ = json.Unmarshal(m.FormData, &form)
	}
	return domain.ModuleResponse{
		ID:           m.ID,
		SessionID:    m.SessionID,
		ModuleNumber: m.ModuleNumber,
		InputMethod:  domain.InputMethod(m.InputMethod),
		AITranscript: transcript,
		FormData:     form,
		AuditReview:  m.AuditReview,
		CompletedAt:  m.CompletedAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func finalDocumentToModel(d domain.FinalDocument) FinalDocumentModel {
	return FinalDocumentModel{
		ID:               d.ID,
		SessionID:        d.SessionID,
		CombinedOverview: d.CombinedOverview,
		ActionPlan:       d.ActionPlan,
		GeneratedAt:      d.GeneratedAt,
	}
}

func finalDocumentFromModel(m FinalDocumentModel) domain.FinalDocument {
	return domain.FinalDocument{
		ID:               m.ID,
		SessionID:        m.SessionID,
		CombinedOverview: m.CombinedOverview,
		ActionPlan:       m.ActionPlan,
		GeneratedAt:      m.GeneratedAt,
	}
}
