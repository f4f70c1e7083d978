package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/engine"
	"github.com/roach88/stagehand/internal/store"
	"github.com/roach88/stagehand/internal/value"
)

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EngineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "state <case-id>",
		Short:         "Dump the state of a case",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(opts, args[0], cmd)
		},
	}

	addEngineFlags(cmd, opts)
	return cmd
}

func runState(opts *EngineOptions, caseID string, cmd *cobra.Command) error {
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

	get := &engine.GetCaseState{}
	get.Case = caseID
	get.By = opts.User

	resp, err := s.submit(get)
	if err != nil {
		return reportEngineError(formatter, err)
	}

	state := resp.Payload.(*engine.CaseState)
	if formatter.Format == "json" {
		return formatter.Success(state)
	}

	fmt.Fprintf(formatter.Writer, "case %s (%s) state=%s seq=%d\n",
		state.CaseID, state.Definition, state.State, state.LastSeq)
	tw := tabwriter.NewWriter(formatter.Writer, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tINDEX\tSTATE")
	for _, pi := range state.PlanItems {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", pi.ID, pi.Name, pi.Type, pi.Index, pi.State)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(state.File) > 0 {
		v, err := value.FromGo(state.File)
		if err != nil {
			return err
		}
		data, err := value.MarshalCanonical(v)
		if err != nil {
			return err
		}
		fmt.Fprintf(formatter.Writer, "file: %s\n", data)
	}
	for _, member := range state.Team {
		fmt.Fprintf(formatter.Writer, "member: %s roles=%v owner=%v\n",
			member.UserID, member.Roles, member.Owner)
	}
	return nil
}

// NewCasesCommand creates the cases command.
func NewCasesCommand(rootOpts *RootOptions) *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:           "cases",
		Short:         "List journaled cases",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCases(rootOpts, database, cmd)
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func runCases(opts *RootOptions, database string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	summaries, err := st.Summaries(context.Background())
	if err != nil {
		return WrapExitError(ExitCommandError, "list cases", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(summaries)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(formatter.Writer, "no cases")
		return nil
	}
	tw := tabwriter.NewWriter(formatter.Writer, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CASE\tDEFINITION\tSEQ\tMODIFIED")
	for _, cs := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", cs.CaseID, cs.Definition, cs.LastSeq, cs.ModifiedAt)
	}
	return tw.Flush()
}
