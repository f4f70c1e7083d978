package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/stagehand/internal/definition"
)

// ErrRuntimeStopped is returned for commands submitted to a runtime
// that is no longer running.
var ErrRuntimeStopped = errors.New("runtime stopped")

// Runtime drives cases through a single-writer loop. Commands come in
// over Submit from any goroutine; all case mutation and journal
// writing happens in the one goroutine running Run. That is what
// makes event sequences deterministic without any locking inside the
// case itself.
type Runtime struct {
	journal  Journal
	registry *Registry
	defs     map[string]*definition.CaseDefinition
	ids      IDGenerator
	now      func() time.Time
	logger   *slog.Logger
	queue    *commandQueue

	// cases holds the live instances. Only the Run goroutine touches
	// it.
	cases map[string]*Case
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithIDGenerator swaps the plan item id source, fixed sequences in
// tests being the point.
func WithIDGenerator(ids IDGenerator) RuntimeOption {
	return func(r *Runtime) { r.ids = ids }
}

// WithNow swaps the wall clock stamped onto CaseModified markers.
func WithNow(now func() time.Time) RuntimeOption {
	return func(r *Runtime) { r.now = now }
}

// WithLogger sets the runtime's logger.
func WithLogger(logger *slog.Logger) RuntimeOption {
	return func(r *Runtime) { r.logger = logger }
}

// WithRegistry swaps the event registry, for exercising versioned
// decoding.
func WithRegistry(reg *Registry) RuntimeOption {
	return func(r *Runtime) { r.registry = reg }
}

// NewRuntime builds a runtime over a journal and the definitions it
// may start cases from. Definitions must be resolved.
func NewRuntime(journal Journal, defs []*definition.CaseDefinition, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		journal:  journal,
		registry: DefaultRegistry(),
		defs:     make(map[string]*definition.CaseDefinition, len(defs)),
		ids:      UUIDv7Generator{},
		now:      time.Now,
		logger:   slog.Default(),
		queue:    newCommandQueue(),
		cases:    make(map[string]*Case),
	}
	for _, def := range defs {
		r.defs[def.Name] = def
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit hands a command to the run loop and waits for its reply.
// Safe from any goroutine.
func (r *Runtime) Submit(ctx context.Context, cmd Command) (*Response, error) {
	w := work{cmd: cmd, reply: make(chan outcome, 1)}
	if !r.queue.enqueue(w) {
		return nil, ErrRuntimeStopped
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-w.reply:
		return out.resp, out.err
	}
}

// Run is the single-writer loop. It must run in exactly one
// goroutine; it returns when the context is cancelled, after
// answering every command still queued.
func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("runtime starting", "definitions", len(r.defs))
	for {
		if w, ok := r.queue.tryDequeue(); ok {
			r.handle(ctx, w)
			continue
		}
		select {
		case <-ctx.Done():
			r.logger.Info("runtime stopping", "reason", ctx.Err())
			r.queue.close()
			for {
				w, ok := r.queue.tryDequeue()
				if !ok {
					return ctx.Err()
				}
				w.reply <- outcome{err: ErrRuntimeStopped}
			}
		case <-r.queue.wait():
		}
	}
}

// Stop closes the intake. Commands already queued are abandoned with
// ErrRuntimeStopped by the Run loop's shutdown pass.
func (r *Runtime) Stop() {
	r.queue.close()
}

func (r *Runtime) handle(ctx context.Context, w work) {
	resp, err := r.perform(ctx, w.cmd)
	w.reply <- outcome{resp: resp, err: err}
}

func (r *Runtime) perform(ctx context.Context, cmd Command) (*Response, error) {
	c, err := r.caseFor(ctx, cmd)
	if err != nil {
		return nil, err
	}

	resp, err := c.Perform(cmd, r.now())
	if err != nil {
		var fault *EngineFaultError
		if errors.As(err, &fault) {
			r.recordFault(ctx, cmd, fault)
			// The instance diverged from the journal: rebuild it
			// from scratch on the next command.
			delete(r.cases, cmd.CaseID())
		}
		return nil, err
	}

	if len(resp.Events) > 0 {
		if err := r.journal.AppendBatch(ctx, resp.Events); err != nil {
			delete(r.cases, cmd.CaseID())
			return nil, fmt.Errorf("append case %s: %w", cmd.CaseID(), err)
		}
	}
	r.cases[cmd.CaseID()] = c
	return resp, nil
}

// caseFor resolves the case instance a command addresses, loading it
// from the journal when it is not in memory.
func (r *Runtime) caseFor(ctx context.Context, cmd Command) (*Case, error) {
	if start, ok := cmd.(*StartCase); ok {
		if _, live := r.cases[cmd.CaseID()]; live {
			return nil, invalidf(cmd.Name(), "case %s already exists", cmd.CaseID())
		}
		last, err := r.journal.LastSeq(ctx, cmd.CaseID())
		if err != nil {
			return nil, err
		}
		if last > 0 {
			return nil, invalidf(cmd.Name(), "case %s already exists", cmd.CaseID())
		}
		def := r.defs[start.Definition]
		if def == nil {
			return nil, invalidf(cmd.Name(), "unknown definition %q", start.Definition)
		}
		return NewCase(cmd.CaseID(), def, r.registry, r.ids, r.logger), nil
	}

	if c, ok := r.cases[cmd.CaseID()]; ok {
		return c, nil
	}
	return r.loadCase(ctx, cmd.CaseID())
}

func (r *Runtime) loadCase(ctx context.Context, caseID string) (*Case, error) {
	envelopes, err := r.journal.Replay(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if len(envelopes) == 0 {
		return nil, invalidf("load", "unknown case %q", caseID)
	}
	first, err := r.registry.Decode(envelopes[0])
	if err != nil {
		return nil, fmt.Errorf("load case %s: %w", caseID, err)
	}
	started, ok := first.(*CaseStarted)
	if !ok {
		return nil, fmt.Errorf("load case %s: journal does not begin with %s", caseID, (&CaseStarted{}).Kind())
	}
	def := r.defs[started.Definition]
	if def == nil {
		return nil, fmt.Errorf("load case %s: unknown definition %q", caseID, started.Definition)
	}
	c := NewCase(caseID, def, r.registry, r.ids, r.logger)
	if err := c.Recover(envelopes); err != nil {
		return nil, fmt.Errorf("load case %s: %w", caseID, err)
	}
	r.cases[caseID] = c
	r.logger.Info("case recovered", "case", caseID, "seq", c.LastSeq())
	return c, nil
}

// recordFault journals a diagnostic marker for a command that failed
// after producing events. The events themselves are discarded; only
// the marker lands, at the next journal sequence.
func (r *Runtime) recordFault(ctx context.Context, cmd Command, fault *EngineFaultError) {
	last, err := r.journal.LastSeq(ctx, cmd.CaseID())
	if err != nil {
		r.logger.Error("fault diagnostics lost", "case", cmd.CaseID(), "error", err)
		return
	}
	env, err := r.registry.Encode(cmd.CaseID(), last+1, &CaseFaultRecorded{
		Command: cmd.Name(),
		Error:   fault.Err.Error(),
	})
	if err != nil {
		r.logger.Error("fault diagnostics lost", "case", cmd.CaseID(), "error", err)
		return
	}
	if err := r.journal.AppendBatch(ctx, []Envelope{env}); err != nil {
		r.logger.Error("fault diagnostics lost", "case", cmd.CaseID(), "error", err)
		return
	}
	r.logger.Error("command faulted", "case", cmd.CaseID(), "command", cmd.Name(), "error", fault.Err)
}
