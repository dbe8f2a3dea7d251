package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/refexgrid/internal/grid"
	"github.com/roach88/refexgrid/internal/model"
)

// FinishOptions holds flags for the commit and cancel commands.
type FinishOptions struct {
	*RootOptions
	Target targetOptions
}

// FinishResult reports what a commit or cancel touched.
type FinishResult struct {
	Action      string      `json:"action"`
	Changed     bool        `json:"changed"`
	Referenced  []model.NID `json:"referenced,omitempty"`
	Assemblages []model.NID `json:"assemblages,omitempty"`
	Rows        int         `json:"rows"`
}

// NewCommitCommand creates the commit command.
func NewCommitCommand(rootOpts *RootOptions) *cobra.Command {
	return newFinishCommand(rootOpts, "commit",
		"Commit the uncommitted edits shown in a grid",
		"Make every uncommitted version of the components and member\nassemblages the grid shows durable.")
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return newFinishCommand(rootOpts, "cancel",
		"Discard the uncommitted edits shown in a grid",
		"Discard every uncommitted version of the components and member\nassemblages the grid shows. Refexes left without versions are removed.")
}

func newFinishCommand(rootOpts *RootOptions, action, short, long string) *cobra.Command {
	opts := &FinishOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   action,
		Short: short,
		Long: long + `

With nothing uncommitted the command does nothing.

Examples:
  refexgrid ` + action + ` --component 12
  refexgrid ` + action + ` --assemblage 4`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFinish(cmd.Context(), opts, action, cmd)
		},
	}
	addTargetFlags(cmd, &opts.Target)
	return cmd
}

func runFinish(ctx context.Context, opts *FinishOptions, action string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)
	if err := opts.Target.validate(); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	cfg, err := opts.Config()
	if err != nil {
		return err
	}

	s, err := openSession(ctx, opts.RootOptions, formatter.GetErrWriter())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "open store", err)
	}
	defer s.Close()

	// Every version is shown so that no uncommitted edit is hidden.
	vo := cfg.ViewOptions()
	vo.History = grid.HistoryOptions{ShowFullHistory: true}
	lv, err := s.openView(ctx, opts.Target, vo, true, nil)
	if err != nil {
		return formatter.Fail(GetExitCode(err), viewErrCode(err), "open grid", err)
	}
	defer lv.Close()

	set := lv.view.Snapshot().Transaction
	result := FinishResult{Action: action}
	if set.HasUncommitted {
		finish, code := lv.view.Commit, ErrCodeCommit
		if action == "cancel" {
			finish, code = lv.view.Cancel, ErrCodeCancel
		}
		if err := finish(ctx); err != nil {
			return formatter.Fail(ExitFailure, code, action+" failed", err)
		}
		if err := lv.await(ctx); err != nil {
			return formatter.Fail(ExitFailure, ErrCodeView, "refresh grid", err)
		}
		result.Changed = true
		result.Referenced = set.Referenced
		result.Assemblages = set.Assemblages
	}
	result.Rows = grid.CountRows(lv.view.Snapshot().Rows)
	s.logger.Info(action, "changed", result.Changed, "referenced", len(result.Referenced), "rows", result.Rows)

	if formatter.JSON() {
		return formatter.Success(result)
	}
	if !result.Changed {
		fmt.Fprintf(formatter.Writer, "Nothing to %s\n", action)
		return nil
	}
	verb := "Committed"
	if action == "cancel" {
		verb = "Cancelled"
	}
	fmt.Fprintf(formatter.Writer, "✓ %s edits on %d component(s); %d row(s) remain\n", verb, len(result.Referenced), result.Rows)
	return nil
}
