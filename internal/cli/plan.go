package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/engine"
)

// NewPlanCommand creates the plan command group for discretionary
// planning.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan discretionary items",
	}
	cmd.AddCommand(newPlanListCommand(rootOpts))
	cmd.AddCommand(newPlanAddCommand(rootOpts))
	return cmd
}

func newPlanListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EngineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "list <case-id>",
		Short:         "List discretionary items currently open for planning",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlanList(opts, args[0], cmd)
		},
	}

	addEngineFlags(cmd, opts)
	return cmd
}

func runPlanList(opts *EngineOptions, caseID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	s, err := openSession(opts)
	if err != nil {
		return err
	}
	defer s.close()

	list := &engine.ListDiscretionaryItems{}
	list.Case = caseID
	list.By = opts.User

	resp, err := s.submit(list)
	if err != nil {
		return reportEngineError(formatter, err)
	}

	items := resp.Payload.([]engine.DiscretionaryItem)
	if formatter.Format == "json" {
		return formatter.Success(items)
	}
	if len(items) == 0 {
		fmt.Fprintln(formatter.Writer, "nothing to plan")
		return nil
	}
	for _, item := range items {
		fmt.Fprintf(formatter.Writer, "%-24s %-10s stage=%s roles=%v\n",
			item.DefinitionID, item.Type, item.StageID, item.Roles)
	}
	return nil
}

func newPlanAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EngineOptions{RootOptions: rootOpts}
	var stageID string
	var itemID string

	cmd := &cobra.Command{
		Use:   "add <case-id> <definition-id>",
		Short: "Plan a discretionary item into an active stage",
		Long: `Create an instance of a discretionary item inside an active stage.
The acting user must hold one of the item's authorized roles when the
definition names any. With --id the new instance gets that id; an id
already in use is rejected.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlanAdd(opts, args[0], args[1], stageID, itemID, cmd)
		},
	}

	addEngineFlags(cmd, opts)
	cmd.Flags().StringVar(&stageID, "stage", "", "target stage instance id (required)")
	cmd.Flags().StringVar(&itemID, "id", "", "id for the new plan item instance")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func runPlanAdd(opts *EngineOptions, caseID, definitionID, stageID, itemID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	s, err := openSession(opts)
	if err != nil {
		return err
	}
	defer s.close()

	add := &engine.AddDiscretionaryItem{DefinitionID: definitionID, StageID: stageID, ItemID: itemID}
	add.Case = caseID
	add.By = opts.User

	resp, err := s.submit(add)
	if err != nil {
		return reportEngineError(formatter, err)
	}

	result := resp.Payload.(*engine.TransitionResult)
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ planned %s as %s\n", definitionID, result.Affected[0])
	return nil
}
