package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/definition"
)

// ValidationResult holds the summary of one validated definition.
type ValidationResult struct {
	Valid     bool     `json:"valid"`
	Case      string   `json:"case,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	FileItems int      `json:"fileItems,omitempty"`
	PlanItems int      `json:"planItems,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition.yaml>",
		Short: "Load and resolve a case definition",
		Long: `Load and resolve a case definition without touching any journal.

Parses the YAML, compiles every rule expression and resolves every
criterion reference. Faster than starting a case for model feedback.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	def, err := definition.LoadFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeLoad, err.Error(), nil)
		return NewExitError(ExitFailure, err.Error())
	}

	result := ValidationResult{
		Valid:     true,
		Case:      def.Name,
		FileItems: countFileItems(def.CaseFile),
		PlanItems: countPlanItems(def.CasePlan),
	}
	for _, role := range def.Roles {
		result.Roles = append(result.Roles, role.Name)
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ %s is valid\n", def.Name)
	fmt.Fprintf(formatter.Writer, "  roles: %d, file items: %d, plan items: %d\n",
		len(result.Roles), result.FileItems, result.PlanItems)
	return nil
}

func countFileItems(items []*definition.CaseFileItemDefinition) int {
	n := 0
	for _, item := range items {
		n += 1 + countFileItems(item.Children)
	}
	return n
}

func countPlanItems(stage *definition.StageDefinition) int {
	if stage == nil {
		return 0
	}
	n := 0
	for _, item := range stage.Items {
		n++
		if item.Stage != nil {
			n += countPlanItems(item.Stage)
		}
	}
	for _, item := range stage.PlanningTable {
		n++
		if item.Stage != nil {
			n += countPlanItems(item.Stage)
		}
	}
	return n
}
