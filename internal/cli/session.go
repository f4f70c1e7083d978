package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/definition"
	"github.com/roach88/stagehand/internal/engine"
	"github.com/roach88/stagehand/internal/store"
)

// Error codes used in CLI responses.
const (
	ErrCodeLoad         = "E001" // definitions could not be loaded
	ErrCodeStore        = "E002" // database could not be opened
	ErrCodeInvalid      = "E003" // command rejected by validation
	ErrCodeUnauthorized = "E004" // command rejected by authorization
	ErrCodeFault        = "E005" // command faulted the case
)

// EngineOptions holds the flags shared by every command that drives
// the engine.
type EngineOptions struct {
	*RootOptions
	Database    string
	Definitions string
	User        string
}

func addEngineFlags(cmd *cobra.Command, opts *EngineOptions) {
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	cmd.Flags().StringVar(&opts.Definitions, "defs", "", "directory of case definition YAML files (required)")
	cmd.Flags().StringVar(&opts.User, "user", "", "acting user id (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("defs")
	_ = cmd.MarkFlagRequired("user")
}

// loadDefinitions loads and resolves every YAML definition in a
// directory, sorted by file name so duplicate case names resolve the
// same way on every run.
func loadDefinitions(dir string) ([]*definition.CaseDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no definition files in %s", dir)
	}
	sort.Strings(paths)

	defs := make([]*definition.CaseDefinition, 0, len(paths))
	for _, path := range paths {
		def, err := definition.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// session is one CLI invocation's engine: a store, a runtime and the
// goroutine running its loop. Close before the process exits.
type session struct {
	store   *store.Store
	runtime *engine.Runtime
	cancel  context.CancelFunc
	done    chan struct{}
}

// openSession loads the definitions, opens the journal and starts the
// runtime loop.
func openSession(opts *EngineOptions) (*session, error) {
	defs, err := loadDefinitions(opts.Definitions)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load definitions", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}

	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	rt := engine.NewRuntime(st, defs, engine.WithLogger(logger))
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{store: st, runtime: rt, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		_ = rt.Run(ctx)
	}()
	return s, nil
}

func (s *session) submit(cmd engine.Command) (*engine.Response, error) {
	return s.runtime.Submit(context.Background(), cmd)
}

func (s *session) close() {
	s.cancel()
	<-s.done
	_ = s.store.Close()
}

// reportEngineError maps an engine rejection onto the formatter and an
// exit code.
func reportEngineError(f *OutputFormatter, err error) error {
	code := ErrCodeInvalid
	switch {
	case engine.IsAuthorizationError(err):
		code = ErrCodeUnauthorized
	case engine.IsEngineFault(err):
		code = ErrCodeFault
	}
	_ = f.Error(code, err.Error(), nil)
	return NewExitError(ExitFailure, err.Error())
}
