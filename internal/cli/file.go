package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/engine"
	"github.com/roach88/stagehand/internal/value"
)

// NewFileCommand creates the file command group.
func NewFileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Manipulate case file content",
	}
	cmd.AddCommand(newFileOpCommand(rootOpts, "create", "Create a case file item"))
	cmd.AddCommand(newFileOpCommand(rootOpts, "update", "Merge fields into a case file item"))
	cmd.AddCommand(newFileOpCommand(rootOpts, "replace", "Replace a case file item and its children"))
	cmd.AddCommand(newFileOpCommand(rootOpts, "delete", "Delete a case file item subtree"))
	return cmd
}

func newFileOpCommand(rootOpts *RootOptions, op, short string) *cobra.Command {
	opts := &EngineOptions{RootOptions: rootOpts}
	var data string

	cmd := &cobra.Command{
		Use:   fmt.Sprintf("%s <case-id> <path>", op),
		Short: short,
		Long: fmt.Sprintf(`%s at a case file path like "Request" or "Receipts[2]".

Example:
  stagehand file %s trip-42 Request --value '{"amount":120}' \
    --db ./cases.db --defs ./models --user alice`, short, op),
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFileOp(opts, op, args[0], args[1], data, cmd)
		},
	}

	addEngineFlags(cmd, opts)
	if op != "delete" {
		cmd.Flags().StringVar(&data, "value", "", "item value as JSON (required)")
		_ = cmd.MarkFlagRequired("value")
	}
	return cmd
}

func runFileOp(opts *EngineOptions, op, caseID, path, data string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	var v value.Value
	if op != "delete" {
		var err error
		v, err = value.DecodeJSON([]byte(data))
		if err != nil {
			return WrapExitError(ExitCommandError, "parse --value", err)
		}
	}

	var op2 engine.Command
	switch op {
	case "create":
		c := &engine.CreateCaseFileItem{Path: path, Value: v}
		c.Case, c.By = caseID, opts.User
		op2 = c
	case "update":
		c := &engine.UpdateCaseFileItem{Path: path, Value: v}
		c.Case, c.By = caseID, opts.User
		op2 = c
	case "replace":
		c := &engine.ReplaceCaseFileItem{Path: path, Value: v}
		c.Case, c.By = caseID, opts.User
		op2 = c
	case "delete":
		c := &engine.DeleteCaseFileItem{Path: path}
		c.Case, c.By = caseID, opts.User
		op2 = c
	}

	s, err := openSession(opts)
	if err != nil {
		return err
	}
	defer s.close()

	resp, err := s.submit(op2)
	if err != nil {
		return reportEngineError(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"caseId": caseID, "path": path, "lastSeq": resp.LastSeq})
	}
	fmt.Fprintf(formatter.Writer, "✓ %s %s (seq %d)\n", op, path, resp.LastSeq)
	return nil
}
