package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/issuetrack/internal/issues"
	"github.com/joescharf/issuetrack/internal/models"
	"github.com/joescharf/issuetrack/internal/output"
	"github.com/joescharf/issuetrack/internal/query"
)

var (
	issueTitle    string
	issueDesc     string
	issueStatus   string
	issuePriority string
	issueAssignee string

	issueSearch   string
	issueSort     string
	issueOrder    string
	issuePage     int
	issuePageSize int
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Manage issues",
	Long:  "Create, list, update and delete issues in the configured store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun(query.Params{})
	},
}

var issueAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new issue",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := models.IssueInput{
			Title:    issueTitle,
			Status:   models.IssueStatus(issueStatus),
			Priority: models.IssuePriority(issuePriority),
		}
		if cmd.Flags().Changed("desc") {
			in.Description = models.StringPtr(issueDesc)
		}
		if cmd.Flags().Changed("assignee") {
			in.Assignee = models.StringPtr(issueAssignee)
		}
		return issueAddRun(in)
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List issues",
	Long:    "List issues with optional search, filters, sorting and paging.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun(query.Params{
			Search:    issueSearch,
			Status:    issueStatus,
			Priority:  issuePriority,
			Assignee:  issueAssignee,
			SortBy:    issueSort,
			SortOrder: issueOrder,
			Page:      issuePage,
			PageSize:  issuePageSize,
		})
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show issue details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(args[0])
	},
}

var issueUpdateCmd = &cobra.Command{
	Use:   "update <issue-id>",
	Short: "Update an issue",
	Long:  "Update an issue. Only the flags given are changed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch models.IssuePatch
		flags := cmd.Flags()
		if flags.Changed("title") {
			patch.Title = models.StringPtr(issueTitle)
		}
		if flags.Changed("desc") {
			patch.Description = models.StringPtr(issueDesc)
		}
		if flags.Changed("status") {
			st := models.IssueStatus(issueStatus)
			patch.Status = &st
		}
		if flags.Changed("priority") {
			pr := models.IssuePriority(issuePriority)
			patch.Priority = &pr
		}
		if flags.Changed("assignee") {
			patch.Assignee = models.StringPtr(issueAssignee)
		}
		return issueUpdateRun(args[0], patch)
	},
}

var issueDeleteCmd = &cobra.Command{
	Use:     "delete <issue-id>",
	Aliases: []string{"rm"},
	Short:   "Delete an issue",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueDeleteRun(args[0])
	},
}

var issueEnrichCmd = &cobra.Command{
	Use:   "enrich <issue-id>",
	Short: "Suggest a description and priority with the LLM",
	Long: `Ask the LLM for a clearer description and a priority, then apply them.
With --dry-run the suggestion is shown but not saved.

Requires ANTHROPIC_API_KEY environment variable or anthropic.api_key in config.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueEnrichRun(args[0])
	},
}

func init() {
	issueAddCmd.Flags().StringVar(&issueTitle, "title", "", "Issue title (required)")
	issueAddCmd.Flags().StringVar(&issueDesc, "desc", "", "Issue description")
	issueAddCmd.Flags().StringVar(&issueStatus, "status", "", "Status: open, in_progress, resolved, closed (default open)")
	issueAddCmd.Flags().StringVar(&issuePriority, "priority", "", "Priority: low, medium, high, critical (default medium)")
	issueAddCmd.Flags().StringVar(&issueAssignee, "assignee", "", "Assignee")
	_ = issueAddCmd.MarkFlagRequired("title")

	issueListCmd.Flags().StringVarP(&issueSearch, "search", "s", "", "Case-insensitive text in title or description")
	issueListCmd.Flags().StringVar(&issueStatus, "status", "", "Filter by status")
	issueListCmd.Flags().StringVar(&issuePriority, "priority", "", "Filter by priority")
	issueListCmd.Flags().StringVar(&issueAssignee, "assignee", "", "Filter by assignee")
	issueListCmd.Flags().StringVar(&issueSort, "sort", "", "Sort field: created_at, updated_at, title, status, priority, assignee")
	issueListCmd.Flags().StringVar(&issueOrder, "order", "", "Sort order: asc or desc")
	issueListCmd.Flags().IntVar(&issuePage, "page", query.DefaultPage, "Page number")
	issueListCmd.Flags().IntVar(&issuePageSize, "page-size", query.DefaultPageSize, "Issues per page (max 100)")

	issueUpdateCmd.Flags().StringVar(&issueTitle, "title", "", "New title")
	issueUpdateCmd.Flags().StringVar(&issueDesc, "desc", "", "New description")
	issueUpdateCmd.Flags().StringVar(&issueStatus, "status", "", "New status")
	issueUpdateCmd.Flags().StringVar(&issuePriority, "priority", "", "New priority")
	issueUpdateCmd.Flags().StringVar(&issueAssignee, "assignee", "", "New assignee")

	issueCmd.AddCommand(issueAddCmd)
	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueUpdateCmd)
	issueCmd.AddCommand(issueDeleteCmd)
	issueCmd.AddCommand(issueEnrichCmd)
	rootCmd.AddCommand(issueCmd)
}

func issueAddRun(in models.IssueInput) error {
	repo, err := getRepository()
	if err != nil {
		return err
	}

	if dryRun {
		in.Normalize()
		if err := in.Validate(); err != nil {
			return err
		}
		ui.DryRunMsg("Would add issue: %s [%s/%s]", in.Title, in.Status, in.Priority)
		return nil
	}

	issue, err := repo.Create(context.Background(), in)
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}

	ui.Success("Created issue %s: %s", output.Cyan(issue.ID), issue.Title)
	return nil
}

func issueListRun(params query.Params) error {
	if err := params.Validate(); err != nil {
		return err
	}

	repo, err := getRepository()
	if err != nil {
		return err
	}
	ctx := context.Background()

	q := query.Build(params)
	list, err := repo.List(ctx, q)
	if err != nil {
		return err
	}
	total, err := repo.Count(ctx, q)
	if err != nil {
		return err
	}

	if len(list) == 0 {
		ui.Info("No issues found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "Status", "Priority", "Assignee", "Updated"})
	for _, issue := range list {
		_ = table.Append([]string{
			issue.ID,
			output.Truncate(issue.Title, 50),
			output.StatusColor(string(issue.Status)),
			output.PriorityColor(string(issue.Priority)),
			issue.AssigneeOr("-"),
			issue.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	_ = table.Render()

	params = params.WithDefaults()
	ui.Info("Page %d (%d per page), %d of %d issues", params.Page, params.PageSize, len(list), total)
	return nil
}

func issueShowRun(id string) error {
	repo, err := getRepository()
	if err != nil {
		return err
	}

	issue, err := repo.Get(context.Background(), id)
	if err != nil {
		return issueError(id, err)
	}
	printIssue(issue)
	return nil
}

func printIssue(issue *models.Issue) {
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(issue.ID), issue.Title)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(issue.Status)))
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(string(issue.Priority)))
	if issue.Assignee != nil {
		fmt.Fprintf(ui.Out, "  Assignee:   %s\n", *issue.Assignee)
	}
	if issue.Description != nil {
		fmt.Fprintf(ui.Out, "  Desc:       %s\n", *issue.Description)
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", issue.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Updated:    %s\n", issue.UpdatedAt.Format(time.RFC3339))
}

func issueUpdateRun(id string, patch models.IssuePatch) error {
	if patch.Empty() {
		return fmt.Errorf("no updates specified (use --title, --desc, --status, --priority, or --assignee)")
	}

	repo, err := getRepository()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if dryRun {
		if _, err := repo.Get(ctx, id); err != nil {
			return issueError(id, err)
		}
		if err := patch.Validate(); err != nil {
			return err
		}
		ui.DryRunMsg("Would update issue %s", id)
		return nil
	}

	issue, err := repo.Update(ctx, id, patch)
	if err != nil {
		return issueError(id, err)
	}

	ui.Success("Updated issue %s", output.Cyan(issue.ID))
	return nil
}

func issueDeleteRun(id string) error {
	repo, err := getRepository()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if dryRun {
		issue, err := repo.Get(ctx, id)
		if err != nil {
			return issueError(id, err)
		}
		ui.DryRunMsg("Would delete issue %s: %s", issue.ID, issue.Title)
		return nil
	}

	deleted, err := repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	if !deleted {
		return fmt.Errorf("issue not found: %s", id)
	}

	ui.Success("Deleted issue %s", output.Cyan(id))
	return nil
}

func issueEnrichRun(id string) error {
	client := newLLMClient()
	if client == nil {
		return fmt.Errorf("ANTHROPIC_API_KEY not set (set env var or anthropic.api_key in config)")
	}

	repo, err := getRepository()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := repo.Get(ctx, id)
	if err != nil {
		return issueError(id, err)
	}

	ui.Info("Asking the LLM about %s...", output.Cyan(issue.ID))
	suggestion, err := client.Enrich(ctx, issue)
	if err != nil {
		return fmt.Errorf("enrich issue: %w", err)
	}

	patch := suggestion.Patch()
	if patch.Priority != nil {
		fmt.Fprintf(ui.Out, "  Priority:   %s -> %s\n", issue.Priority, output.PriorityColor(string(*patch.Priority)))
	}
	if patch.Description != nil {
		fmt.Fprintf(ui.Out, "  Desc:       %s\n", *patch.Description)
	}
	if patch.Empty() {
		ui.Info("No changes suggested.")
		return nil
	}

	if dryRun {
		ui.DryRunMsg("Would apply suggestion to issue %s", issue.ID)
		return nil
	}

	if _, err := repo.Update(ctx, issue.ID, patch); err != nil {
		return issueError(id, err)
	}
	ui.Success("Applied suggestion to issue %s", output.Cyan(issue.ID))
	return nil
}

// issueError turns a not-found error into a message naming the id.
func issueError(id string, err error) error {
	if errors.Is(err, issues.ErrNotFound) {
		return fmt.Errorf("issue not found: %s", id)
	}
	return err
}
