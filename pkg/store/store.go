package store

import (
	"errors"

	"strategylab/pkg/domain"
)

// Store defines persistence operations for users, sessions, module
// responses, and final documents. Backends: GORM/Postgres and in-memory.
type Store interface {
	// users
	UpsertUser(domain.User) error
	GetUser(id string) (domain.User, bool, error)

	// sessions
	GetOrCreateSession(userID string) (domain.Session, error)
	GetSession(id string) (domain.Session, bool, error)
	UpdateSession(id string, patch domain.SessionPatch) error

	// module responses
	GetModuleResponse(sessionID string, moduleNumber int) (domain.ModuleResponse, bool, error)
	SaveModuleResponse(patch domain.ModuleResponsePatch) (string, error)
	ListModuleResponses(sessionID string) ([]domain.ModuleResponse, error)
	ListCompletedModuleResponses(sessionID string) ([]domain.ModuleResponse, error)

	// final documents
	GetFinalDocument(sessionID string) (domain.FinalDocument, bool, error)
	SaveFinalDocument(doc domain.FinalDocument) (string, error)
}

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a unique-constraint violation.
	ErrConflict = errors.New("conflict")
	// ErrMissingField indicates a save could not resolve a required field
	// from either the patch or the existing row.
	ErrMissingField = errors.New("missing required field")
)
