package prompts

import (
	"errors"
	"strings"
	"testing"

	"strategylab/pkg/domain"
)

func TestChatSystemPromptScopesToModule(t *testing.T) {
	p := ChatSystemPrompt(2, "")
	if !strings.Contains(p, "Value Delivery") {
		t.Fatalf("module 2 prompt should name its topic:\n%s", p)
	}
	if !strings.Contains(p, "Do not re-ask") {
		t.Fatalf("module 2 prompt should carry the do-not-re-ask policy")
	}
	if strings.Contains(ChatSystemPrompt(0, ""), "Do not re-ask") {
		t.Fatalf("module 0 prompt must not carry the module 2 policy")
	}
}

func TestChatSystemPromptOutOfRangeFallsBack(t *testing.T) {
	p := ChatSystemPrompt(-1, "")
	if p != baseSystemPrompt {
		t.Fatalf("unscoped chat should use the base prompt only")
	}
}

func TestChatSystemPromptCarriesContext(t *testing.T) {
	p := ChatSystemPrompt(1, "owner runs a bakery")
	if !strings.Contains(p, "owner runs a bakery") {
		t.Fatalf("module context missing from prompt")
	}
	if ChatSystemPrompt(1, "   ") != ChatSystemPrompt(1, "") {
		t.Fatalf("blank context should be ignored")
	}
}

func TestAuditPromptRange(t *testing.T) {
	for n := 0; n < domain.ModuleCount; n++ {
		tmpl, err := AuditPrompt(n)
		if err != nil {
			t.Fatalf("module %d: %v", n, err)
		}
		if !strings.Contains(tmpl, moduleTitles[n]) {
			t.Fatalf("module %d template should name %q", n, moduleTitles[n])
		}
	}
	if _, err := AuditPrompt(5); !errors.Is(err, ErrInvalidModule) {
		t.Fatalf("expected invalid-module error, got %v", err)
	}
	if _, err := AuditPrompt(-1); !errors.Is(err, ErrInvalidModule) {
		t.Fatalf("expected invalid-module error, got %v", err)
	}
}

func TestRenderAuditPromptIncludesBothSources(t *testing.T) {
	tmpl, err := AuditPrompt(0)
	if err != nil {
		t.Fatalf("audit prompt: %v", err)
	}
	transcript := []domain.ChatMessage{
		{Role: "user", Content: "we sell bread"},
		{Role: "assistant", Content: "to whom?"},
	}
	form := map[string]string{"revenue": "retail", "stage": "growing"}
	p := RenderAuditPrompt(tmpl, transcript, form)
	if !strings.Contains(p, "user: we sell bread") || !strings.Contains(p, "assistant: to whom?") {
		t.Fatalf("transcript missing from rendered prompt:\n%s", p)
	}
	if !strings.Contains(p, "revenue: retail") || !strings.Contains(p, "stage: growing") {
		t.Fatalf("form answers missing from rendered prompt:\n%s", p)
	}
	// Map iteration must not make the output flap.
	if p != RenderAuditPrompt(tmpl, transcript, form) {
		t.Fatalf("rendered prompt is not deterministic")
	}
}

func TestCombinedOverviewPromptNumbersModules(t *testing.T) {
	audits := []string{"# A0", "# A1", "# A2", "# A3", "# A4"}
	p := CombinedOverviewPrompt(audits)
	for i, audit := range audits {
		if !strings.Contains(p, audit) {
			t.Fatalf("audit %d missing from prompt", i)
		}
	}
	if !strings.Contains(p, "Module 4 audit review") {
		t.Fatalf("modules should be labeled by number")
	}
}

func TestActionPlanPromptCarriesModuleData(t *testing.T) {
	mods := []domain.ModuleResponse{
		{ModuleNumber: 0, FormData: map[string]string{"what": "bakery"}, AuditReview: "# Review 0"},
		{ModuleNumber: 4, AuditReview: "# Review 4"},
	}
	p := ActionPlanPrompt(mods)
	if !strings.Contains(p, "90-day action plan") {
		t.Fatalf("prompt should ask for the 90-day plan")
	}
	if !strings.Contains(p, "what: bakery") || !strings.Contains(p, "# Review 4") {
		t.Fatalf("module data missing from prompt:\n%s", p)
	}
	if !strings.Contains(p, "Growth Engine") {
		t.Fatalf("module titles should label the sections")
	}
}

func TestFormatTranscriptDefaultsRole(t *testing.T) {
	got := FormatTranscript([]domain.ChatMessage{{Content: "hello"}})
	if got != "user: hello" {
		t.Fatalf("blank role should default to user, got %q", got)
	}
}
