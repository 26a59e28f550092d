package wardsync

import (
	"context"
	"fmt"
	"sync"
)

// Remote is the records service as seen by translators.
// *remote.HTTPClient satisfies it.
type Remote interface {
	Create(ctx context.Context, resource string, body any, idempotencyKey string) (string, error)
	Update(ctx context.Context, resource, serverID string, body any) error
	Delete(ctx context.Context, resource, serverID string) error
}

// ParentIDs maps a parent table to its server identity.
type ParentIDs map[Table]string

// PushRequest is one mutation handed to a translator.
type PushRequest struct {
	Action Action
	// Record is the live record re-read at push time. Nil for deletes of
	// records that were already purged.
	Record Record
	// Parents carries the resolved server identity of the record's parent.
	Parents ParentIDs
	// ServerID is the record's own server identity; required for update and delete.
	ServerID       string
	IdempotencyKey string
}

// Translator converts a record of one table into remote calls.
type Translator interface {
	Table() Table
	// Push applies the request remotely. For creates it returns the server
	// identity the service assigned; otherwise it returns req.ServerID.
	Push(ctx context.Context, req PushRequest) (string, error)
}

// Registry maps tables to their translators. Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	translators map[Table]Translator
}

// NewRegistry creates a registry holding ts.
func NewRegistry(ts ...Translator) *Registry {
	r := &Registry{translators: make(map[Table]Translator, len(ts))}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds or replaces the translator for t.Table().
func (r *Registry) Register(t Translator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translators[t.Table()] = t
}

// For returns the translator registered for table.
func (r *Registry) For(table Table) (Translator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.translators[table]
	if !ok {
		return nil, fmt.Errorf("%w: no translator for %q", ErrUnknownTable, table)
	}
	return t, nil
}

// Tables returns the registered tables.
func (r *Registry) Tables() []Table {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Table
	for _, t := range Tables() {
		if _, ok := r.translators[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// DefaultRegistry returns translators for patients, treatment plans and
// plan steps, all pushing through rem.
func DefaultRegistry(rem Remote) *Registry {
	return NewRegistry(
		&PatientTranslator{Remote: rem},
		&PlanTranslator{Remote: rem},
		&StepTranslator{Remote: rem},
	)
}
