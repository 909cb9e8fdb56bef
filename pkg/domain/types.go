package domain

import "time"

// InputMethod describes how a module's answers were collected.
type InputMethod string

const (
	InputMethodAI   InputMethod = "ai"
	InputMethodForm InputMethod = "form"
)

// Valid reports whether the input method is one of the supported values.
func (m InputMethod) Valid() bool {
	return m == InputMethodAI || m == InputMethodForm
}

// ModuleCount is the number of questionnaire modules (numbered 0..4).
const ModuleCount = 5

// ValidModule reports whether n is a module number in range.
func ValidModule(n int) bool {
	return n >= 0 && n < ModuleCount
}

// Identity is the verified result of token introspection at the
// identity provider.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// User mirrors the identity-provider account locally. Immutable except
// LastSeenAt, which is refreshed on every authenticated request.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Session is a user's progression record through the five modules.
// The latest session for a user is the canonical one.
type Session struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	CurrentModule    int       `json:"currentModule"`
	CompletionStatus int       `json:"completionStatus"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// SessionPatch carries optional session field updates.
type SessionPatch struct {
	CurrentModule    *int
	CompletionStatus *int
}

// ChatMessage is one turn of an AI coaching conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModuleResponse holds everything collected for one (session, module) pair.
// CompletedAt non-nil means the module has a finalized audit review.
type ModuleResponse struct {
	ID           string            `json:"id"`
	SessionID    string            `json:"sessionId"`
	ModuleNumber int               `json:"moduleNumber"`
	InputMethod  InputMethod       `json:"inputMethod"`
	AITranscript []ChatMessage     `json:"aiTranscript,omitempty"`
	FormData     map[string]string `json:"formData,omitempty"`
	AuditReview  string            `json:"auditReviewDocument,omitempty"`
	CompletedAt  *time.Time        `json:"completedAt,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Completed reports whether the module has a finalized audit review.
func (m ModuleResponse) Completed() bool {
	return m.CompletedAt != nil && m.AuditReview != ""
}

// ModuleResponsePatch is a partial save for a module response. Only
// supplied fields overwrite existing values (merge semantics).
type ModuleResponsePatch struct {
	SessionID    string
	ModuleNumber int
	InputMethod  InputMethod
	AITranscript []ChatMessage
	FormData     map[string]string
	AuditReview  string
	CompletedAt  *time.Time
}

// FinalDocument is the pair of syntheses generated once all five modules
// are complete. One per session.
type FinalDocument struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"sessionId"`
	CombinedOverview string    `json:"combinedOverview"`
	ActionPlan       string    `json:"actionPlan"`
	GeneratedAt      time.Time `json:"generatedAt"`
}
