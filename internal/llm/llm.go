package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/issuetrack/internal/models"
)

// Client wraps the Anthropic API for issue drafting and enrichment.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// ExtractedIssue is one issue drafted from free-form notes.
type ExtractedIssue struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Assignee    string `json:"assignee"`
}

// Input converts the draft to a create payload. Unknown priorities fall
// back to the default so a sloppy model answer still validates.
func (e ExtractedIssue) Input() models.IssueInput {
	in := models.IssueInput{Title: strings.TrimSpace(e.Title)}
	if d := strings.TrimSpace(e.Description); d != "" {
		in.Description = &d
	}
	if a := strings.TrimSpace(e.Assignee); a != "" {
		in.Assignee = &a
	}
	if p := models.IssuePriority(strings.ToLower(e.Priority)); p.Valid() {
		in.Priority = p
	}
	in.Normalize()
	return in
}

// Suggestion holds the LLM-proposed improvements for an existing issue.
type Suggestion struct {
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// Patch converts the suggestion into an update. Empty or unknown values
// are left out.
func (s *Suggestion) Patch() models.IssuePatch {
	var p models.IssuePatch
	if d := strings.TrimSpace(s.Description); d != "" {
		p.Description = &d
	}
	if pr := models.IssuePriority(strings.ToLower(strings.TrimSpace(s.Priority))); pr.Valid() {
		p.Priority = &pr
	}
	return p
}

const priorityList = `"low", "medium", "high", "critical"`

// buildPrompt constructs the system and user prompts for issue extraction.
func buildPrompt(content string) (system string, user string) {
	system = `You extract structured issues from free-form notes for an issue tracker. Return ONLY a JSON array of objects with these fields:
- "title": concise issue title, at most 200 characters
- "description": brief description of the issue (can be empty string if the title is self-explanatory), at most 1000 characters
- "priority": one of ` + priorityList + `
- "assignee": the person the notes assign the issue to, or empty string

Rules:
- Each numbered/bulleted item is one issue
- Default priority to "medium" unless context suggests otherwise
- Never create placeholder issues like "no issues specified" or "N/A"
- Return valid JSON only, no markdown fencing or explanation`

	user = "Extract issues from these notes:\n\n" + content
	return
}

// ExtractIssues sends notes to the LLM and returns drafted issues.
func (c *Client) ExtractIssues(ctx context.Context, content string) ([]ExtractedIssue, error) {
	systemPrompt, userPrompt := buildPrompt(content)

	text, err := c.complete(ctx, systemPrompt, userPrompt, 4096)
	if err != nil {
		return nil, err
	}

	var issues []ExtractedIssue
	if err := decodeJSON(text, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// buildEnrichPrompt constructs the system and user prompts for issue enrichment.
func buildEnrichPrompt(title, description string, status models.IssueStatus) (system string, user string) {
	system = `You improve issues in an issue tracker. Given an issue's title, status and optional description, return a JSON object with exactly two fields:

- "description": A concise 1-3 sentence summary of what this issue is about, at most 1000 characters. If a description is already provided, improve it for clarity. If no description exists, generate one from the title.
- "priority": your assessment of the issue's urgency, one of ` + priorityList + `.

Rules:
- Return valid JSON only, no markdown fencing or explanation
- The description should be suitable for display in an issue tracker
- Use "critical" only for outages, data loss or security problems`

	var sb strings.Builder
	sb.WriteString("Issue title: ")
	sb.WriteString(title)
	sb.WriteString("\n")
	if status != "" {
		sb.WriteString("Status: ")
		sb.WriteString(string(status))
		sb.WriteString("\n")
	}
	if description != "" {
		sb.WriteString("\nExisting description: ")
		sb.WriteString(description)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// Enrich asks the LLM for a better description and a priority for issue.
func (c *Client) Enrich(ctx context.Context, issue *models.Issue) (*Suggestion, error) {
	systemPrompt, userPrompt := buildEnrichPrompt(issue.Title, issue.DescriptionOr(""), issue.Status)

	text, err := c.complete(ctx, systemPrompt, userPrompt, 1024)
	if err != nil {
		return nil, err
	}

	var s Suggestion
	if err := decodeJSON(text, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in API response")
}

// stripFences removes a surrounding markdown code fence, if present.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

func decodeJSON(text string, v any) error {
	text = stripFences(text)
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	return nil
}
