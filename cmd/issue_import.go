package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/issuetrack/internal/issues"
	"github.com/joescharf/issuetrack/internal/llm"
)

var importNoLLM bool

var issueImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import issues from a markdown file",
	Long: `Import issues from a markdown file ("-" reads stdin).

With an Anthropic API key configured, an LLM extracts titles, descriptions,
priorities and assignees from free-form notes. Otherwise, or with --no-llm,
numbered and bulleted list items become issues. A "## Assignee <name>"
heading assigns the items below it; priorities are inferred from keywords.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueImportRun(args[0])
	},
}

func init() {
	issueImportCmd.Flags().BoolVar(&importNoLLM, "no-llm", false, "Parse list items locally instead of calling the LLM")
	issueCmd.AddCommand(issueImportCmd)
}

func readImportSource(file string) (string, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("file is empty: %s", file)
	}
	return content, nil
}

func issueImportRun(file string) error {
	content, err := readImportSource(file)
	if err != nil {
		return err
	}

	repo, err := getRepository()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var extracted []llm.ExtractedIssue
	client := newLLMClient()
	switch {
	case importNoLLM:
		extracted = parseMarkdownIssues(content)
	case client == nil:
		ui.Warning("ANTHROPIC_API_KEY not set, parsing list items locally")
		extracted = parseMarkdownIssues(content)
	default:
		ui.Info("Extracting issues with LLM...")
		extracted, err = client.ExtractIssues(ctx, content)
		if err != nil {
			return fmt.Errorf("extract issues: %w", err)
		}
	}

	if len(extracted) == 0 {
		ui.Info("No issues found in file.")
		return nil
	}

	table := ui.Table([]string{"#", "Title", "Priority", "Assignee"})
	for i, e := range extracted {
		_ = table.Append([]string{
			fmt.Sprintf("%d", i+1),
			e.Title,
			e.Priority,
			e.Assignee,
		})
	}
	_ = table.Render()

	if dryRun {
		ui.DryRunMsg("Would create %d issues", len(extracted))
		return nil
	}

	created, skipped := createExtractedIssues(ctx, repo, extracted)
	ui.Success("Created %d issues", created)
	if skipped > 0 {
		ui.Warning("Skipped %d issues", skipped)
	}
	return nil
}

// parseSubIssueNumber checks if a line starts with a sub-item number like "1.1" or "2.3."
// Returns the title text and true if it's a sub-item, or empty and false otherwise.
func parseSubIssueNumber(line string) (title string, ok bool) {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(line) || line[i] != '.' {
		return "", false
	}
	i++
	start := i
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == start {
		return "", false // "1. text" is a top-level item
	}
	if i < len(line) && line[i] == '.' {
		i++
	}
	if i >= len(line) || line[i] != ' ' {
		return "", false
	}
	title = strings.TrimSpace(line[i:])
	return title, title != ""
}

// parseListItem returns the text of a "1. text", "- text" or "* text" line.
func parseListItem(line string) (title string, numbered bool) {
	if len(line) <= 2 {
		return "", false
	}
	for i, c := range line {
		if c == '.' && i > 0 && i < 4 {
			return strings.TrimSpace(line[i+1:]), true
		}
		if c < '0' || c > '9' {
			break
		}
	}
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
		return strings.TrimSpace(line[2:]), false
	}
	return "", false
}

// parseAssigneeHeading recognizes "## Assignee <name>" and "## Unassigned".
func parseAssigneeHeading(heading string) (assignee string, ok bool) {
	lower := strings.ToLower(heading)
	switch {
	case strings.HasPrefix(lower, "assignee "):
		return strings.TrimSpace(heading[len("assignee "):]), true
	case lower == "unassigned":
		return "", true
	default:
		return "", false
	}
}

// parseMarkdownIssues extracts numbered and bulleted items as issue drafts.
// Sub-items ("1.1 text") carry their parent item as the description.
func parseMarkdownIssues(content string) []llm.ExtractedIssue {
	var out []llm.ExtractedIssue
	assignee := ""
	parent := ""

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		if strings.HasPrefix(line, "## ") {
			if a, ok := parseAssigneeHeading(strings.TrimSpace(line[3:])); ok {
				assignee = a
			}
			parent = ""
			continue
		}

		if sub, ok := parseSubIssueNumber(line); ok {
			out = append(out, llm.ExtractedIssue{
				Title:       sub,
				Description: parent,
				Priority:    string(classifyIssuePriority(sub)),
				Assignee:    assignee,
			})
			continue
		}

		title, numbered := parseListItem(line)
		if title == "" {
			continue
		}
		if numbered {
			parent = title
		}
		out = append(out, llm.ExtractedIssue{
			Title:    title,
			Priority: string(classifyIssuePriority(title)),
			Assignee: assignee,
		})
	}

	return out
}

// createExtractedIssues creates each draft through the repository. Drafts
// that fail validation are reported and skipped.
func createExtractedIssues(ctx context.Context, repo *issues.Repository, extracted []llm.ExtractedIssue) (created, skipped int) {
	for _, e := range extracted {
		if _, err := repo.Create(ctx, e.Input()); err != nil {
			ui.Warning("Skipping issue %q: %v", e.Title, err)
			skipped++
			continue
		}
		created++
	}
	return created, skipped
}
