package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"strategylab/pkg/domain"
	"strategylab/pkg/store"
)

// fakeLLM returns canned text and records the prompts it was given.
type fakeLLM struct {
	replies    []string
	documents  map[string]string // substring match on the prompt
	err        error
	converseN  int
	documentN  int
	lastSystem string
}

func (f *fakeLLM) Converse(ctx context.Context, systemPrompt string, history []domain.ChatMessage) (string, error) {
	f.converseN++
	f.lastSystem = systemPrompt
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "ok", nil
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

func (f *fakeLLM) GenerateDocument(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.documentN++
	if f.err != nil {
		return "", f.err
	}
	for fragment, text := range f.documents {
		if strings.Contains(prompt, fragment) {
			return text, nil
		}
	}
	return "# Document", nil
}

func newTestApp(t *testing.T, llm *fakeLLM) (*App, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	a, err := New(Config{Store: s, LLM: llm})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, s
}

func startSession(t *testing.T, a *App) domain.Session {
	t.Helper()
	_, session, err := a.StartSession(domain.Identity{ID: "user-1", Email: "u@example.com", Name: "U"})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return session
}

func TestStartSessionIsStable(t *testing.T) {
	a, _ := newTestApp(t, &fakeLLM{})
	first := startSession(t, a)
	second := startSession(t, a)
	if first.ID != second.ID {
		t.Fatalf("repeated sign-in must resolve the same session")
	}
}

func TestSaveModuleFormOnlyKeepsModuleInProgress(t *testing.T) {
	a, _ := newTestApp(t, &fakeLLM{})
	session := startSession(t, a)

	_, updated, err := a.SaveModule(session.ID, 0, SaveModuleInput{
		InputMethod: domain.InputMethodForm,
		FormData:    map[string]string{"q": "a"},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if updated.CompletionStatus != 0 || updated.CurrentModule != 0 {
		t.Fatalf("form-only save must not advance progression, got %+v", updated)
	}
	mod, err := a.GetModule(session.ID, 0)
	if err != nil {
		t.Fatalf("get module: %v", err)
	}
	if mod.Completed() {
		t.Fatalf("module without an audit review must not be completed")
	}
}

func TestSaveModuleWithAuditCompletesAndAdvances(t *testing.T) {
	a, _ := newTestApp(t, &fakeLLM{})
	session := startSession(t, a)

	_, updated, err := a.SaveModule(session.ID, 0, SaveModuleInput{
		InputMethod: domain.InputMethodAI,
		AITranscript: []domain.ChatMessage{
			{Role: "user", Content: "my business"},
			{Role: "assistant", Content: "tell me more"},
		},
		AuditReview: "# Review 0",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if updated.CompletionStatus != 1 {
		t.Fatalf("completion status should count finalized modules, got %d", updated.CompletionStatus)
	}
	if updated.CurrentModule != 1 {
		t.Fatalf("current module should advance to 1, got %d", updated.CurrentModule)
	}
	mod, err := a.GetModule(session.ID, 0)
	if err != nil {
		t.Fatalf("get module: %v", err)
	}
	if !mod.Completed() || mod.AuditReview != "# Review 0" {
		t.Fatalf("audit save should finalize the module, got %+v", mod)
	}
}

func TestCurrentModuleNeverMovesBackwards(t *testing.T) {
	a, _ := newTestApp(t, &fakeLLM{})
	session := startSession(t, a)

	for _, n := range []int{0, 1, 2} {
		if _, _, err := a.SaveModule(session.ID, n, SaveModuleInput{
			InputMethod: domain.InputMethodForm,
			FormData:    map[string]string{"q": "a"},
			AuditReview: "# Review",
		}); err != nil {
			t.Fatalf("save module %d: %v", n, err)
		}
	}
	// Re-finalizing an earlier module must not pull the pointer back.
	_, updated, err := a.SaveModule(session.ID, 0, SaveModuleInput{
		FormData:    map[string]string{"q": "revised"},
		AuditReview: "# Review revised",
	})
	if err != nil {
		t.Fatalf("re-save module 0: %v", err)
	}
	if updated.CurrentModule != 3 {
		t.Fatalf("current module must stay at 3, got %d", updated.CurrentModule)
	}
	if updated.CompletionStatus != 3 {
		t.Fatalf("completion status should stay 3, got %d", updated.CompletionStatus)
	}
}

func TestCurrentModuleCapsAtLastModule(t *testing.T) {
	a, _ := newTestApp(t, &fakeLLM{})
	session := startSession(t, a)

	for n := 0; n < domain.ModuleCount; n++ {
		_, updated, err := a.SaveModule(session.ID, n, SaveModuleInput{
			InputMethod: domain.InputMethodForm,
			FormData:    map[string]string{"q": "a"},
			AuditReview: "# Review",
		})
		if err != nil {
			t.Fatalf("save module %d: %v", n, err)
		}
		if n == domain.ModuleCount-1 {
			if updated.CurrentModule != domain.ModuleCount-1 {
				t.Fatalf("current module must cap at %d, got %d", domain.ModuleCount-1, updated.CurrentModule)
			}
			if updated.CompletionStatus != domain.ModuleCount {
				t.Fatalf("all modules completed, status should be %d, got %d", domain.ModuleCount, updated.CompletionStatus)
			}
		}
	}
}

func TestSaveModuleFirstSaveNeedsPayload(t *testing.T) {
	a, _ := newTestApp(t, &fakeLLM{})
	session := startSession(t, a)

	cases := []SaveModuleInput{
		{},
		{InputMethod: domain.InputMethodAI},
		{InputMethod: domain.InputMethodForm},
		{InputMethod: "mystery", FormData: map[string]string{"q": "a"}},
	}
	for i, input := range cases {
		if _, _, err := a.SaveModule(session.ID, 1, input); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid-input error, got %v", i, err)
		}
	}
}

func TestSaveModuleUnknownSession(t *testing.T) {
	a, _ := newTestApp(t, &fakeLLM{})
	if _, _, err := a.SaveModule("no-such-session", 0, SaveModuleInput{
		InputMethod: domain.InputMethodForm,
		FormData:    map[string]string{"q": "a"},
	}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestChatValidatesMessages(t *testing.T) {
	a, _ := newTestApp(t, &fakeLLM{})
	if _, err := a.Chat(context.Background(), 0, "", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty history should be rejected, got %v", err)
	}
	if _, err := a.Chat(context.Background(), 0, "", []domain.ChatMessage{{Role: "user", Content: "   "}}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank message should be rejected, got %v", err)
	}
}

func TestChatScopesSystemPromptToModule(t *testing.T) {
	llm := &fakeLLM{replies: []string{"a thoughtful reply"}}
	a, _ := newTestApp(t, llm)
	reply, err := a.Chat(context.Background(), 1, "prior context", []domain.ChatMessage{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "a thoughtful reply" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if !strings.Contains(llm.lastSystem, "prior context") {
		t.Fatalf("system prompt should carry the module context")
	}
}

func TestGenerateAuditRequiresSomeInput(t *testing.T) {
	a, _ := newTestApp(t, &fakeLLM{})
	if _, err := a.GenerateAudit(context.Background(), 0, nil, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid-input error, got %v", err)
	}
	if _, err := a.GenerateAudit(context.Background(), 7, []domain.ChatMessage{{Role: "user", Content: "x"}}, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("out-of-range module should be rejected, got %v", err)
	}
}

func TestGenerateFinalDocumentsRequiresAllModules(t *testing.T) {
	a, _ := newTestApp(t, &fakeLLM{})
	session := startSession(t, a)

	for _, n := range []int{0, 1, 3, 4} {
		if _, _, err := a.SaveModule(session.ID, n, SaveModuleInput{
			InputMethod: domain.InputMethodForm,
			FormData:    map[string]string{"q": "a"},
			AuditReview: "# Review",
		}); err != nil {
			t.Fatalf("save module %d: %v", n, err)
		}
	}
	_, err := a.GenerateFinalDocuments(context.Background(), session.ID)
	var incomplete *IncompletePrerequisiteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected incomplete-prerequisite error, got %v", err)
	}
	if len(incomplete.Missing) != 1 || incomplete.Missing[0] != 2 {
		t.Fatalf("expected missing module [2], got %v", incomplete.Missing)
	}
}

func TestGenerateFinalDocumentsPersistsBoth(t *testing.T) {
	llm := &fakeLLM{documents: map[string]string{
		"90-day": "# Action Plan",
	}}
	a, s := newTestApp(t, llm)
	session := startSession(t, a)

	for n := 0; n < domain.ModuleCount; n++ {
		if _, _, err := a.SaveModule(session.ID, n, SaveModuleInput{
			InputMethod: domain.InputMethodForm,
			FormData:    map[string]string{"q": "a"},
			AuditReview: "# Review",
		}); err != nil {
			t.Fatalf("save module %d: %v", n, err)
		}
	}
	doc, err := a.GenerateFinalDocuments(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if doc.CombinedOverview == "" || doc.ActionPlan == "" {
		t.Fatalf("both documents must be present, got %+v", doc)
	}
	if llm.documentN != 2 {
		t.Fatalf("expected exactly two generation calls, got %d", llm.documentN)
	}
	stored, found, err := s.GetFinalDocument(session.ID)
	if err != nil || !found {
		t.Fatalf("final document not persisted: found=%v err=%v", found, err)
	}
	if stored.ID != doc.ID {
		t.Fatalf("returned and stored documents disagree")
	}

	// Regeneration overwrites the single row.
	again, err := a.GenerateFinalDocuments(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if again.ID != doc.ID {
		t.Fatalf("regeneration must reuse the session's single row")
	}
}

func TestGenerateFinalDocumentsFailurePersistsNothing(t *testing.T) {
	llm := &fakeLLM{err: errors.New("upstream down")}
	a, s := newTestApp(t, llm)
	session := startSession(t, a)

	// Complete all modules with a working client first.
	working := &fakeLLM{}
	a2, err := New(Config{Store: s, LLM: working})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	for n := 0; n < domain.ModuleCount; n++ {
		if _, _, err := a2.SaveModule(session.ID, n, SaveModuleInput{
			InputMethod: domain.InputMethodForm,
			FormData:    map[string]string{"q": "a"},
			AuditReview: "# Review",
		}); err != nil {
			t.Fatalf("save module %d: %v", n, err)
		}
	}
	if _, err := a.GenerateFinalDocuments(context.Background(), session.ID); err == nil {
		t.Fatalf("expected generation failure")
	}
	if _, found, _ := s.GetFinalDocument(session.ID); found {
		t.Fatalf("nothing must be persisted when generation fails")
	}
	if _, err := a.GetFinalDocuments(session.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found after failed generation, got %v", err)
	}
}

func TestExportWithoutArchive(t *testing.T) {
	a, _ := newTestApp(t, &fakeLLM{})
	session := startSession(t, a)
	if _, err := a.ExportFinalDocuments(context.Background(), session.ID); !errors.Is(err, ErrArchiveDisabled) {
		t.Fatalf("expected archive-disabled error, got %v", err)
	}
}

func TestFullWalkthrough(t *testing.T) {
	llm := &fakeLLM{
		replies:   []string{"what does your business do?"},
		documents: map[string]string{"90-day": "# Action Plan"},
	}
	a, _ := newTestApp(t, llm)
	session := startSession(t, a)

	for n := 0; n < domain.ModuleCount; n++ {
		reply, err := a.Chat(context.Background(), n, "", []domain.ChatMessage{{Role: "user", Content: "let's work on this module"}})
		if err != nil {
			t.Fatalf("chat module %d: %v", n, err)
		}
		if reply == "" {
			t.Fatalf("chat module %d: empty reply", n)
		}
		transcript := []domain.ChatMessage{
			{Role: "user", Content: "let's work on this module"},
			{Role: "assistant", Content: reply},
		}
		audit, err := a.GenerateAudit(context.Background(), n, transcript, nil)
		if err != nil {
			t.Fatalf("audit module %d: %v", n, err)
		}
		_, session2, err := a.SaveModule(session.ID, n, SaveModuleInput{
			InputMethod:  domain.InputMethodAI,
			AITranscript: transcript,
			AuditReview:  audit,
		})
		if err != nil {
			t.Fatalf("save module %d: %v", n, err)
		}
		if session2.CompletionStatus != n+1 {
			t.Fatalf("module %d: completion status %d", n, session2.CompletionStatus)
		}
	}

	doc, err := a.GenerateFinalDocuments(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("final documents: %v", err)
	}
	got, err := a.GetFinalDocuments(session.ID)
	if err != nil {
		t.Fatalf("get final documents: %v", err)
	}
	if got.CombinedOverview != doc.CombinedOverview || got.ActionPlan != doc.ActionPlan {
		t.Fatalf("stored documents disagree with generated ones")
	}
}
