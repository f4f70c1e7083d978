package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/definition"
	"github.com/roach88/stagehand/internal/engine"
	"github.com/roach88/stagehand/internal/store"
)

// ReplayResult holds the outcome of a journal verification.
type ReplayResult struct {
	CaseID     string `json:"caseId"`
	Definition string `json:"definition"`
	Events     int    `json:"events"`
	LastSeq    int64  `json:"lastSeq"`
	State      string `json:"state"`
}

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	EngineOptions
	Trace bool
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{EngineOptions: EngineOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "replay <case-id>",
		Short: "Rebuild a case from its journal and verify it",
		Long: `Rebuild a case from its journal, checking that every event decodes,
that sequence numbers are contiguous from 1 and that the rebuilt state
is reachable. --trace prints every event on the way.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	addEngineFlags(cmd, &opts.EngineOptions)
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "print the event trace")
	return cmd
}

func runReplay(opts *ReplayOptions, caseID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	defs, err := loadDefinitions(opts.Definitions)
	if err != nil {
		return WrapExitError(ExitCommandError, "load definitions", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer st.Close()

	envelopes, err := st.Replay(context.Background(), caseID)
	if err != nil {
		return WrapExitError(ExitCommandError, "read journal", err)
	}
	if len(envelopes) == 0 {
		_ = formatter.Error(ErrCodeInvalid, fmt.Sprintf("unknown case %q", caseID), nil)
		return NewExitError(ExitFailure, fmt.Sprintf("unknown case %q", caseID))
	}

	registry := engine.DefaultRegistry()
	for i, env := range envelopes {
		if env.Seq != int64(i+1) {
			msg := fmt.Sprintf("journal gap: event %d has seq %d", i, env.Seq)
			_ = formatter.Error(ErrCodeInvalid, msg, nil)
			return NewExitError(ExitFailure, msg)
		}
		if _, err := registry.Decode(env); err != nil {
			_ = formatter.Error(ErrCodeInvalid, err.Error(), nil)
			return NewExitError(ExitFailure, err.Error())
		}
		if opts.Trace && formatter.Format != "json" {
			fmt.Fprintf(formatter.Writer, "%4d  %-28s %s\n", env.Seq, env.Kind, env.Data)
		}
	}

	started, err := registry.Decode(envelopes[0])
	if err != nil {
		return NewExitError(ExitFailure, err.Error())
	}
	first, ok := started.(*engine.CaseStarted)
	if !ok {
		msg := fmt.Sprintf("journal does not begin with %s", (&engine.CaseStarted{}).Kind())
		_ = formatter.Error(ErrCodeInvalid, msg, nil)
		return NewExitError(ExitFailure, msg)
	}

	caseDef := findDefinition(defs, first.Definition)
	if caseDef == nil {
		msg := fmt.Sprintf("unknown definition %q", first.Definition)
		_ = formatter.Error(ErrCodeLoad, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := engine.NewCase(caseID, caseDef, registry, engine.UUIDv7Generator{}, logger)
	if err := c.Recover(envelopes); err != nil {
		_ = formatter.Error(ErrCodeFault, err.Error(), nil)
		return NewExitError(ExitFailure, err.Error())
	}

	state := c.Snapshot()
	result := ReplayResult{
		CaseID:     caseID,
		Definition: first.Definition,
		Events:     len(envelopes),
		LastSeq:    c.LastSeq(),
		State:      state.State,
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ case %s replayed: %d events, seq %d, state %s\n",
		caseID, result.Events, result.LastSeq, result.State)
	return nil
}

func findDefinition(defs []*definition.CaseDefinition, name string) *definition.CaseDefinition {
	for _, def := range defs {
		if def.Name == name {
			return def
		}
	}
	return nil
}
