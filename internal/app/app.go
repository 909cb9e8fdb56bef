package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"strategylab/internal/prompts"
	"strategylab/internal/util"
	"strategylab/pkg/ai"
	"strategylab/pkg/domain"
	"strategylab/pkg/storage"
	"strategylab/pkg/store"
)

const (
	defaultMaxDocumentTokens = 4096
	exportURLExpiry          = 15 * time.Minute
)

// Config holds runtime configuration for the core application.
type Config struct {
	Store             store.Store
	LLM               ai.Client
	Archive           storage.ObjectStore // nil disables archiving
	MaxDocumentTokens int
}

// App is the module workflow orchestrator: it decides what operation to
// run for a session, persists results, and advances progression state.
type App struct {
	store             store.Store
	llm               ai.Client
	archive           storage.ObjectStore
	maxDocumentTokens int
}

// New constructs the application core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.LLM == nil {
		return nil, fmt.Errorf("llm client required")
	}
	maxTokens := cfg.MaxDocumentTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxDocumentTokens
	}
	return &App{
		store:             cfg.Store,
		llm:               cfg.LLM,
		archive:           cfg.Archive,
		maxDocumentTokens: maxTokens,
	}, nil
}

// StartSession upserts the verified identity as a local user and resolves
// the canonical session, creating one on first contact.
func (a *App) StartSession(ident domain.Identity) (domain.User, domain.Session, error) {
	now := time.Now().UTC()
	user := domain.User{
		ID:         ident.ID,
		Email:      ident.Email,
		Name:       ident.Name,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := a.store.UpsertUser(user); err != nil {
		return domain.User{}, domain.Session{}, fmt.Errorf("upsert user: %w", err)
	}
	stored, ok, err := a.store.GetUser(ident.ID)
	if err != nil {
		return domain.User{}, domain.Session{}, fmt.Errorf("load user: %w", err)
	}
	if ok {
		user = stored
	}
	session, err := a.store.GetOrCreateSession(ident.ID)
	if err != nil {
		return domain.User{}, domain.Session{}, fmt.Errorf("resolve session: %w", err)
	}
	return user, session, nil
}

// GetModule returns one module response for the session.
func (a *App) GetModule(sessionID string, moduleNumber int) (domain.ModuleResponse, error) {
	if !domain.ValidModule(moduleNumber) {
		return domain.ModuleResponse{}, fmt.Errorf("module %d: %w", moduleNumber, ErrInvalidInput)
	}
	resp, found, err := a.store.GetModuleResponse(sessionID, moduleNumber)
	if err != nil {
		return domain.ModuleResponse{}, fmt.Errorf("load module response: %w", err)
	}
	if !found {
		return domain.ModuleResponse{}, ErrNotFound
	}
	return resp, nil
}

// ListModules returns all module responses for the session ordered by
// module number.
func (a *App) ListModules(sessionID string) ([]domain.ModuleResponse, error) {
	items, err := a.store.ListModuleResponses(sessionID)
	if err != nil {
		return nil, fmt.Errorf("list module responses: %w", err)
	}
	return items, nil
}

// SaveModuleInput is the client-supplied partial save for one module.
type SaveModuleInput struct {
	InputMethod  domain.InputMethod
	AITranscript []domain.ChatMessage
	FormData     map[string]string
	AuditReview  string
}

// SaveModule upserts a module response and advances progression state.
// A save carrying an audit review finalizes the module: completed-at is
// stamped, the session's completion count is recomputed, and the current
// module advances (never backwards). Completion is not reverted by later
// edits.
func (a *App) SaveModule(sessionID string, moduleNumber int, input SaveModuleInput) (string, domain.Session, error) {
	session, found, err := a.store.GetSession(sessionID)
	if err != nil {
		return "", domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return "", domain.Session{}, ErrNotFound
	}
	if !domain.ValidModule(moduleNumber) {
		return "", domain.Session{}, fmt.Errorf("module %d: %w", moduleNumber, ErrInvalidInput)
	}
	if input.InputMethod != "" && !input.InputMethod.Valid() {
		return "", domain.Session{}, fmt.Errorf("input method %q: %w", input.InputMethod, ErrInvalidInput)
	}

	_, exists, err := a.store.GetModuleResponse(sessionID, moduleNumber)
	if err != nil {
		return "", domain.Session{}, fmt.Errorf("load module response: %w", err)
	}
	if !exists {
		// First save must carry the payload for the chosen method.
		switch input.InputMethod {
		case domain.InputMethodAI:
			if len(input.AITranscript) == 0 {
				return "", domain.Session{}, fmt.Errorf("ai transcript required: %w", ErrInvalidInput)
			}
		case domain.InputMethodForm:
			if len(input.FormData) == 0 {
				return "", domain.Session{}, fmt.Errorf("form data required: %w", ErrInvalidInput)
			}
		default:
			return "", domain.Session{}, fmt.Errorf("input method required: %w", ErrInvalidInput)
		}
	}

	patch := domain.ModuleResponsePatch{
		SessionID:    sessionID,
		ModuleNumber: moduleNumber,
		InputMethod:  input.InputMethod,
		AITranscript: input.AITranscript,
		FormData:     input.FormData,
		AuditReview:  input.AuditReview,
	}
	if input.AuditReview != "" {
		now := time.Now().UTC()
		patch.CompletedAt = &now
	}
	id, err := a.store.SaveModuleResponse(patch)
	if err != nil {
		return "", domain.Session{}, fmt.Errorf("save module response: %w", err)
	}

	if patch.CompletedAt != nil {
		session, err = a.advanceProgression(session, moduleNumber)
		if err != nil {
			return "", domain.Session{}, err
		}
	}
	return id, session, nil
}

// advanceProgression recomputes completion status as the count of
// finalized modules and moves the current-module pointer forwards only.
func (a *App) advanceProgression(session domain.Session, moduleNumber int) (domain.Session, error) {
	completed, err := a.store.ListCompletedModuleResponses(session.ID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("count completed modules: %w", err)
	}
	status := len(completed)
	next := moduleNumber + 1
	if next > domain.ModuleCount-1 {
		next = domain.ModuleCount - 1
	}
	if next < session.CurrentModule {
		next = session.CurrentModule
	}
	patch := domain.SessionPatch{
		CurrentModule:    &next,
		CompletionStatus: &status,
	}
	if err := a.store.UpdateSession(session.ID, patch); err != nil {
		return domain.Session{}, fmt.Errorf("update session: %w", err)
	}
	session.CurrentModule = next
	session.CompletionStatus = status
	return session, nil
}

// Chat produces the next coaching reply for a module conversation.
// moduleNumber may be -1 when the client does not scope the chat.
func (a *App) Chat(ctx context.Context, moduleNumber int, moduleContext string, messages []domain.ChatMessage) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("messages required: %w", ErrInvalidInput)
	}
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			return "", fmt.Errorf("empty message content: %w", ErrInvalidInput)
		}
	}
	systemPrompt := prompts.ChatSystemPrompt(moduleNumber, moduleContext)
	reply, err := a.llm.Converse(ctx, systemPrompt, messages)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	return reply, nil
}

// GenerateAudit produces the audit-review markdown for a module from
// either the conversation transcript or the form answers.
func (a *App) GenerateAudit(ctx context.Context, moduleNumber int, transcript []domain.ChatMessage, formData map[string]string) (string, error) {
	if len(transcript) == 0 && len(formData) == 0 {
		return "", fmt.Errorf("transcript or form data required: %w", ErrInvalidInput)
	}
	template, err := prompts.AuditPrompt(moduleNumber)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	prompt := prompts.RenderAuditPrompt(template, transcript, formData)
	audit, err := a.llm.GenerateDocument(ctx, prompt, a.maxDocumentTokens)
	if err != nil {
		return "", fmt.Errorf("generate audit: %w", err)
	}
	return audit, nil
}

// GenerateFinalDocuments synthesizes the combined overview and the 90-day
// action plan once all five modules are completed. The two generations run
// concurrently; nothing is persisted unless both succeed.
func (a *App) GenerateFinalDocuments(ctx context.Context, sessionID string) (domain.FinalDocument, error) {
	completed, err := a.store.ListCompletedModuleResponses(sessionID)
	if err != nil {
		return domain.FinalDocument{}, fmt.Errorf("list completed modules: %w", err)
	}
	if missing := missingModules(completed); len(missing) > 0 {
		return domain.FinalDocument{}, &IncompletePrerequisiteError{Missing: missing}
	}

	audits := make([]string, len(completed))
	for i, mod := range completed {
		audits[i] = mod.AuditReview
	}

	var overview, plan string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		text, err := a.llm.GenerateDocument(gctx, prompts.CombinedOverviewPrompt(audits), a.maxDocumentTokens)
		if err != nil {
			return fmt.Errorf("generate combined overview: %w", err)
		}
		overview = text
		return nil
	})
	g.Go(func() error {
		text, err := a.llm.GenerateDocument(gctx, prompts.ActionPlanPrompt(completed), a.maxDocumentTokens)
		if err != nil {
			return fmt.Errorf("generate action plan: %w", err)
		}
		plan = text
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.FinalDocument{}, err
	}

	doc := domain.FinalDocument{
		SessionID:        sessionID,
		CombinedOverview: overview,
		ActionPlan:       plan,
		GeneratedAt:      time.Now().UTC(),
	}
	id, err := a.store.SaveFinalDocument(doc)
	if err != nil {
		return domain.FinalDocument{}, fmt.Errorf("save final documents: %w", err)
	}
	doc.ID = id

	// Best effort: the request already succeeded from the user's point
	// of view once the documents are persisted.
	if a.archive != nil {
		if err := a.archive.PutDocument(ctx, archiveKey(sessionID), renderArchive(doc)); err != nil {
			util.LoggerFromContext(ctx).Warn("archive final documents", slog.String("session_id", sessionID), slog.Any("err", err))
		}
	}
	return doc, nil
}

// GetFinalDocuments returns previously generated final documents.
func (a *App) GetFinalDocuments(sessionID string) (domain.FinalDocument, error) {
	doc, found, err := a.store.GetFinalDocument(sessionID)
	if err != nil {
		return domain.FinalDocument{}, fmt.Errorf("load final documents: %w", err)
	}
	if !found {
		return domain.FinalDocument{}, ErrNotFound
	}
	return doc, nil
}

// ExportFinalDocuments returns a presigned download URL for the archived
// markdown export of the session's final documents.
func (a *App) ExportFinalDocuments(ctx context.Context, sessionID string) (string, error) {
	if a.archive == nil {
		return "", ErrArchiveDisabled
	}
	if _, err := a.GetFinalDocuments(sessionID); err != nil {
		return "", err
	}
	url, err := a.archive.PresignGet(ctx, archiveKey(sessionID), exportURLExpiry)
	if err != nil {
		return "", fmt.Errorf("presign export: %w", err)
	}
	return url, nil
}

func missingModules(completed []domain.ModuleResponse) []int {
	done := make(map[int]bool, len(completed))
	for _, mod := range completed {
		if mod.Completed() {
			done[mod.ModuleNumber] = true
		}
	}
	var missing []int
	for n := 0; n < domain.ModuleCount; n++ {
		if !done[n] {
			missing = append(missing, n)
		}
	}
	return missing
}

func archiveKey(sessionID string) string {
	return "sessions/" + sessionID + "/final-documents.md"
}

func renderArchive(doc domain.FinalDocument) string {
	var sb strings.Builder
	sb.WriteString(doc.CombinedOverview)
	sb.WriteString("\n\n---\n\n")
	sb.WriteString(doc.ActionPlan)
	sb.WriteString("\n")
	return sb.String()
}
