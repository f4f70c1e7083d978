package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/engine"
	"github.com/roach88/stagehand/internal/value"
)

// TransitionOptions holds flags for the transition command.
type TransitionOptions struct {
	EngineOptions
	ItemID   string
	ItemName string
}

// NewTransitionCommand creates the transition command.
func NewTransitionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TransitionOptions{EngineOptions: EngineOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "transition <case-id> <transition>",
		Short: "Move a plan item through its lifecycle",
		Long: `Apply a lifecycle transition to a plan item, addressed by instance
id or by definition name. By-name addressing tries every existing
instance and fails only when none moves.

Example:
  stagehand transition trip-42 Complete --name Submit \
    --db ./cases.db --defs ./models --user alice`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(opts, args[0], args[1], cmd)
		},
	}

	addEngineFlags(cmd, &opts.EngineOptions)
	cmd.Flags().StringVar(&opts.ItemID, "item", "", "plan item instance id")
	cmd.Flags().StringVar(&opts.ItemName, "name", "", "plan item definition name")
	cmd.MarkFlagsOneRequired("item", "name")
	cmd.MarkFlagsMutuallyExclusive("item", "name")

	return cmd
}

func runTransition(opts *TransitionOptions, caseID, transition string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	s, err := openSession(&opts.EngineOptions)
	if err != nil {
		return err
	}
	defer s.close()

	move := &engine.MakePlanItemTransition{
		ItemID:     opts.ItemID,
		ItemName:   opts.ItemName,
		Transition: engine.Transition(transition),
	}
	move.Case = caseID
	move.By = opts.User

	resp, err := s.submit(move)
	if err != nil {
		return reportEngineError(formatter, err)
	}

	result := resp.Payload.(*engine.TransitionResult)
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ %s applied to %s\n", transition, strings.Join(result.Affected, ", "))
	return nil
}

// CompleteOptions holds flags for the complete command.
type CompleteOptions struct {
	EngineOptions
	Outputs []string
}

// NewCompleteCommand creates the complete command.
func NewCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompleteOptions{EngineOptions: EngineOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "complete <case-id> <item-id>",
		Short: "Complete a task with output bindings",
		Long: `Complete an active task, writing its outputs into the case file
first. Outputs land before the completion so sentries that watch both
see the file changes.

Example:
  stagehand complete trip-42 item-3 --output 'Request/approved=true' \
    --db ./cases.db --defs ./models --user alice`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComplete(opts, args[0], args[1], cmd)
		},
	}

	addEngineFlags(cmd, &opts.EngineOptions)
	cmd.Flags().StringArrayVar(&opts.Outputs, "output", nil, "task output as path=JSON (repeatable)")

	return cmd
}

func runComplete(opts *CompleteOptions, caseID, itemID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	outputs := make(map[string]value.Value, len(opts.Outputs))
	for _, out := range opts.Outputs {
		path, data, ok := strings.Cut(out, "=")
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("output %q: want path=JSON", out))
		}
		v, err := value.DecodeJSON([]byte(data))
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("output %q", path), err)
		}
		outputs[path] = v
	}

	s, err := openSession(&opts.EngineOptions)
	if err != nil {
		return err
	}
	defer s.close()

	complete := &engine.CompleteTask{ItemID: itemID, Output: outputs}
	complete.Case = caseID
	complete.By = opts.User

	resp, err := s.submit(complete)
	if err != nil {
		return reportEngineError(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"caseId": caseID, "lastSeq": resp.LastSeq})
	}
	fmt.Fprintf(formatter.Writer, "✓ task %s completed (seq %d)\n", itemID, resp.LastSeq)
	return nil
}
