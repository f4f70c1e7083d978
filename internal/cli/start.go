package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/engine"
	"github.com/roach88/stagehand/internal/value"
)

// StartOptions holds flags for the start command.
type StartOptions struct {
	EngineOptions
	Definition string
	Inputs     []string
	Members    []string
	Owners     []string
}

// NewStartCommand creates the start command.
func NewStartCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StartOptions{EngineOptions: EngineOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "start <case-id>",
		Short: "Start a new case",
		Long: `Start a new case from a loaded definition.

The acting user becomes a case owner. Inputs bind to case file items
declared by the definition.

Example:
  stagehand start trip-42 --db ./cases.db --defs ./models --user alice \
    --definition travel --input 'request={"amount":120}' --member bob=approver`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(opts, args[0], cmd)
		},
	}

	addEngineFlags(cmd, &opts.EngineOptions)
	cmd.Flags().StringVar(&opts.Definition, "definition", "", "definition name to start (required)")
	cmd.Flags().StringArrayVar(&opts.Inputs, "input", nil, "case input as name=JSON (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Members, "member", nil, "initial member as user[=role,...] (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Owners, "owner", nil, "initial member who is also an owner (repeatable)")
	_ = cmd.MarkFlagRequired("definition")

	return cmd
}

func runStart(opts *StartOptions, caseID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	inputs, err := parseInputs(opts.Inputs)
	if err != nil {
		return WrapExitError(ExitCommandError, "parse inputs", err)
	}
	members, err := parseMembers(opts.Members, opts.Owners)
	if err != nil {
		return WrapExitError(ExitCommandError, "parse members", err)
	}

	s, err := openSession(&opts.EngineOptions)
	if err != nil {
		return err
	}
	defer s.close()

	start := &engine.StartCase{
		Definition: opts.Definition,
		Inputs:     inputs,
		Members:    members,
	}
	start.Case = caseID
	start.By = opts.User

	resp, err := s.submit(start)
	if err != nil {
		return reportEngineError(formatter, err)
	}

	formatter.VerboseLog("journaled %d events", len(resp.Events))
	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"caseId": caseID, "lastSeq": resp.LastSeq})
	}
	fmt.Fprintf(formatter.Writer, "✓ case %s started (seq %d)\n", caseID, resp.LastSeq)
	return nil
}

func parseInputs(raw []string) (map[string]value.Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	inputs := make(map[string]value.Value, len(raw))
	for _, in := range raw {
		name, data, ok := strings.Cut(in, "=")
		if !ok {
			return nil, fmt.Errorf("input %q: want name=JSON", in)
		}
		v, err := value.DecodeJSON([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		inputs[name] = v
	}
	return inputs, nil
}

func parseMembers(raw, owners []string) ([]engine.MemberSpec, error) {
	byUser := make(map[string]*engine.MemberSpec)
	var order []string
	for _, m := range raw {
		user, roles, _ := strings.Cut(m, "=")
		if user == "" {
			return nil, fmt.Errorf("member %q: empty user id", m)
		}
		spec := byUser[user]
		if spec == nil {
			spec = &engine.MemberSpec{UserID: user}
			byUser[user] = spec
			order = append(order, user)
		}
		if roles != "" {
			spec.Roles = append(spec.Roles, strings.Split(roles, ",")...)
		}
	}
	for _, user := range owners {
		spec := byUser[user]
		if spec == nil {
			spec = &engine.MemberSpec{UserID: user}
			byUser[user] = spec
			order = append(order, user)
		}
		spec.Owner = true
	}
	members := make([]engine.MemberSpec, 0, len(order))
	for _, user := range order {
		members = append(members, *byUser[user])
	}
	return members, nil
}
