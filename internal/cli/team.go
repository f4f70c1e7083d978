package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/engine"
)

// NewTeamCommand creates the team command group.
func NewTeamCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Manage the case team",
	}
	cmd.AddCommand(newTeamPutCommand(rootOpts))
	cmd.AddCommand(newTeamRemoveCommand(rootOpts))
	return cmd
}

func newTeamPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EngineOptions{RootOptions: rootOpts}
	var roles []string
	var owner bool

	cmd := &cobra.Command{
		Use:   "put <case-id> <user-id>",
		Short: "Add or update a team member",
		Long: `Add a member or replace an existing member's roles and ownership.
Only case owners manage the team. Role constraints (singleton, mutex)
are checked against the whole resulting team.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTeamPut(opts, args[0], args[1], roles, owner, cmd)
		},
	}

	addEngineFlags(cmd, opts)
	cmd.Flags().StringArrayVar(&roles, "role", nil, "role to grant (repeatable)")
	cmd.Flags().BoolVar(&owner, "owner", false, "make the member a case owner")
	return cmd
}

func runTeamPut(opts *EngineOptions, caseID, userID string, roles []string, owner bool, cmd *cobra.Command) error {
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

	put := &engine.PutTeamMember{UserID: userID, Roles: roles, Owner: owner}
	put.Case = caseID
	put.By = opts.User

	resp, err := s.submit(put)
	if err != nil {
		return reportEngineError(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"caseId": caseID, "userId": userID, "lastSeq": resp.LastSeq})
	}
	fmt.Fprintf(formatter.Writer, "✓ member %s updated (seq %d)\n", userID, resp.LastSeq)
	return nil
}

func newTeamRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EngineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "remove <case-id> <user-id>",
		Short:         "Remove a team member",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTeamRemove(opts, args[0], args[1], cmd)
		},
	}

	addEngineFlags(cmd, opts)
	return cmd
}

func runTeamRemove(opts *EngineOptions, caseID, userID string, cmd *cobra.Command) error {
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

	remove := &engine.RemoveTeamMember{UserID: userID}
	remove.Case = caseID
	remove.By = opts.User

	resp, err := s.submit(remove)
	if err != nil {
		return reportEngineError(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"caseId": caseID, "userId": userID, "lastSeq": resp.LastSeq})
	}
	fmt.Fprintf(formatter.Writer, "✓ member %s removed (seq %d)\n", userID, resp.LastSeq)
	return nil
}
