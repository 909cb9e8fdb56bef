// Package prompts is the static template library for the strategy lab's
// LLM calls: one audit template per module, per-module chat policies, and
// the two final-document prompts. Everything here is a pure function of
// its inputs.
package prompts

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"strategylab/pkg/domain"
)

// ErrInvalidModule indicates a module number outside [0,4]. Programmer
// error; callers validate module numbers before rendering.
var ErrInvalidModule = errors.New("invalid module number")

// moduleTitles names the five fixed stages of the questionnaire.
var moduleTitles = [domain.ModuleCount]string{
	"Business Foundation",
	"Customers & Goals",
	"Value Delivery",
	"Positioning & Differentiation",
	"Growth Engine",
}

// ModuleTitle returns the display title for a module.
func ModuleTitle(n int) string {
	if !domain.ValidModule(n) {
		return ""
	}
	return moduleTitles[n]
}

const baseSystemPrompt = `You are the Homerun Strategy Lab coach, an experienced business-strategy advisor.
You guide a business owner through a structured questionnaire, one module at a time.
Ask one focused question per turn, acknowledge the answer briefly, and dig deeper when an answer is vague.
Stay on the current module's topic. Keep replies short and conversational.`

// modulePolicies maps module number to an extra policy fragment appended
// to the base system prompt. Module 2 must not re-open ground already
// covered by modules 0 and 1.
var modulePolicies = map[int]string{
	0: `This module covers the business foundation: what the business does, how it makes money, team size, and current stage.`,
	1: `This module covers customers and goals: who the business serves, what those customers are trying to achieve, and the owner's goals for the next year.`,
	2: `This module covers value delivery only. Do not re-ask what the business does, how it makes money, who the customers are, or what the owner's goals are; those were covered in earlier modules. If the user strays onto those topics, redirect to what the customer wants, what is actually delivered, and what outcomes are created.`,
	3: `This module covers positioning: how the business differs from alternatives, why customers choose it, and how it is perceived in its market.`,
	4: `This module covers the growth engine: how new customers are found today, what has worked, what has been tried and dropped, and capacity to grow.`,
}

// ChatSystemPrompt builds the coaching system prompt for a conversational
// turn. moduleNumber outside [0,4] yields the base prompt only.
func ChatSystemPrompt(moduleNumber int, moduleContext string) string {
	var sb strings.Builder
	sb.WriteString(baseSystemPrompt)
	if policy, ok := modulePolicies[moduleNumber]; ok {
		sb.WriteString("\n\n")
		sb.WriteString(fmt.Sprintf("Current module: %d (%s). ", moduleNumber, moduleTitles[moduleNumber]))
		sb.WriteString(policy)
	}
	if ctx := strings.TrimSpace(moduleContext); ctx != "" {
		sb.WriteString("\n\nAdditional context from the application:\n")
		sb.WriteString(ctx)
	}
	return sb.String()
}

// auditTemplates holds the audit-review prompt per module. The collected
// answers are appended by RenderAuditPrompt.
var auditTemplates = [domain.ModuleCount]string{
	`Write an "audit review" of the Business Foundation module below, in markdown.
Summarize what the business is, how it earns revenue, and its current stage.
Call out strengths, risks, and anything left unclear. Start with a level-1 heading.`,

	`Write an "audit review" of the Customers & Goals module below, in markdown.
Summarize who the business serves, what those customers need, and the owner's stated goals.
Flag mismatches between the customer base and the goals. Start with a level-1 heading.`,

	`Write an "audit review" of the Value Delivery module below, in markdown.
Summarize what the customer wants, what the business actually delivers, and what outcomes are created.
Identify gaps between promise and delivery. Start with a level-1 heading.`,

	`Write an "audit review" of the Positioning & Differentiation module below, in markdown.
Summarize how the business stands apart, why customers choose it, and how defensible that position is.
Note where positioning is asserted but not evidenced. Start with a level-1 heading.`,

	`Write an "audit review" of the Growth Engine module below, in markdown.
Summarize how customers are acquired today, what has worked, and where capacity limits growth.
Highlight the most promising next lever. Start with a level-1 heading.`,
}

// AuditPrompt returns the audit template for a module.
func AuditPrompt(moduleNumber int) (string, error) {
	if !domain.ValidModule(moduleNumber) {
		return "", fmt.Errorf("module %d: %w", moduleNumber, ErrInvalidModule)
	}
	return auditTemplates[moduleNumber], nil
}

// RenderAuditPrompt appends the collected answers to a template: the
// transcript as role-labeled lines, or the form data as "key: value"
// lines. Deterministic given its inputs.
func RenderAuditPrompt(template string, transcript []domain.ChatMessage, formData map[string]string) string {
	var sb strings.Builder
	sb.WriteString(template)
	if len(transcript) > 0 {
		sb.WriteString("\n\nConversation transcript:\n")
		sb.WriteString(FormatTranscript(transcript))
	}
	if len(formData) > 0 {
		sb.WriteString("\n\nForm answers:\n")
		sb.WriteString(formatFormData(formData))
	}
	return sb.String()
}

// CombinedOverviewPrompt asks for the synthesis of all five audit reviews.
func CombinedOverviewPrompt(audits []string) string {
	var sb strings.Builder
	sb.WriteString(`Combine the five module audit reviews below into one cohesive strategy overview, in markdown.
Open with an executive summary, then a section per module, then a closing section on the biggest cross-cutting opportunities and risks.
Start with a level-1 heading.`)
	for i, audit := range audits {
		sb.WriteString(fmt.Sprintf("\n\n--- Module %d audit review ---\n", i))
		sb.WriteString(audit)
	}
	return sb.String()
}

// ActionPlanPrompt asks for the 90-day action plan from the completed
// module data and audits.
func ActionPlanPrompt(modules []domain.ModuleResponse) string {
	var sb strings.Builder
	sb.WriteString(`Using the module data and audit reviews below, write a 90-day action plan in markdown.
Organize it into three monthly phases with concrete, owner-executable actions, each tied to a finding from the audits.
Start with a level-1 heading.`)
	for _, mod := range modules {
		sb.WriteString(fmt.Sprintf("\n\n--- Module %d: %s ---\n", mod.ModuleNumber, ModuleTitle(mod.ModuleNumber)))
		if len(mod.FormData) > 0 {
			sb.WriteString("Form answers:\n")
			sb.WriteString(formatFormData(mod.FormData))
			sb.WriteString("\n")
		}
		if mod.AuditReview != "" {
			sb.WriteString("Audit review:\n")
			sb.WriteString(mod.AuditReview)
		}
	}
	return sb.String()
}

// FormatTranscript serializes a conversation as role-labeled lines in
// insertion order.
func FormatTranscript(transcript []domain.ChatMessage) string {
	var sb strings.Builder
	for _, msg := range transcript {
		role := strings.TrimSpace(msg.Role)
		if role == "" {
			role = "user"
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func formatFormData(formData map[string]string) string {
	keys := make([]string, 0, len(formData))
	for k := range formData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(formData[k])
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
