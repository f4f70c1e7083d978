package engine

import "context"

// Journal is the append-only event store behind the runtime. The
// engine owns the interface; the store package provides the SQLite
// implementation.
//
// AppendBatch must be atomic: either every envelope of a command
// lands or none does. Appends are idempotent per (case, seq) so a
// crashed runtime may safely retry a batch.
type Journal interface {
	// AppendBatch persists one command's envelopes in order.
	AppendBatch(ctx context.Context, envelopes []Envelope) error
	// Replay returns every envelope of a case in sequence order.
	// An unknown case yields an empty slice, not an error.
	Replay(ctx context.Context, caseID string) ([]Envelope, error)
	// LastSeq returns the highest stored sequence for a case, zero
	// when the case is unknown.
	LastSeq(ctx context.Context, caseID string) (int64, error)
	// Cases lists every case id with at least one envelope.
	Cases(ctx context.Context) ([]string, error)
}
