// Package store persists reservation documents: one document per reservation
// id, replaced wholesale on every sync that observes that id.
package store

import "context"

// Outcome reports what an upsert did.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeReplaced
)

func (o Outcome) String() string {
	if o == OutcomeInserted {
		return "inserted"
	}
	return "replaced"
}

// Store is the document-store capability the sync engine depends on. The
// implementation must be safe for concurrent use by multiple in-flight
// upserts (the pgx pool is; test fakes guard with a mutex).
type Store interface {
	// Upsert inserts the payload under id, or fully replaces the existing
	// document. Calling twice with identical arguments is idempotent: the
	// second call reports OutcomeReplaced with no observable change.
	Upsert(ctx context.Context, id string, payload map[string]any) (Outcome, error)

	// List visits stored documents in stable id order, skipping offset
	// documents and visiting at most limit. Documents are produced
	// incrementally so memory stays bounded regardless of store size; a
	// visit error (including context cancellation) stops the scan and
	// releases the cursor.
	List(ctx context.Context, limit, offset int, visit func(doc map[string]any) error) error

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int64, error)
}
