// Package storage centralizes all bbolt access: the event log (by
// global sequence and by order_id), sync cursors, the audit chain,
// and CA/entity key material.
package storage

import "github.com/posedge/edge/pkg/types"

// Store is the persistence contract every component builds on. A
// single BoltStore instance backs all of them; the interface exists
// so orders/sync/audit code can be tested against an in-memory fake.
type Store interface {
	// Event log (C2).
	AppendEvent(event types.OrderEvent) error
	EventsForOrder(orderID string) ([]types.OrderEvent, error)
	EventsSince(globalSequence uint64) ([]types.OrderEvent, error)
	HighWaterMark() (uint64, error)

	// Snapshots (warm-start cache, rebuildable from the event log).
	SaveSnapshot(snapshot types.OrderSnapshot) error
	LoadSnapshot(orderID string) (*types.OrderSnapshot, error)
	ActiveOrderIDs() ([]string, error)
	AllOrderIDs() ([]string, error)

	// Sync cursors (C9).
	GetCursor(edgeID, resourceName string) (*types.SyncCursor, error)
	SaveCursor(cursor types.SyncCursor) error

	// Audit chain (C11).
	AppendAuditEntry(entry types.AuditEntry) error
	AuditEntries() ([]types.AuditEntry, error)
	AuditHighWaterMark() (uint64, error)
	// UpdateAuditEntry overwrites an already-appended entry in place
	// (Resolved/ResolvedBy/ResolvedAt only; Sequence/CurrHash/PrevHash
	// must be unchanged) without touching the high-water mark. Used by
	// the acknowledge workflow, which must not consume a new sequence
	// for a field update on an existing entry.
	UpdateAuditEntry(entry types.AuditEntry) error

	// PKI material (C6/C7).
	SaveCA(level string, data []byte) error
	GetCA(level string) ([]byte, error)
	SaveEntityCredential(data []byte) error
	GetEntityCredential() ([]byte, error)
	SaveSignedBinding(data []byte) error
	GetSignedBinding() ([]byte, error)

	Close() error
}

// ErrNotFound is returned by the snapshot, CA, entity credential and
// signed binding getters when the requested key has never been written.
// GetCursor instead returns a nil cursor and no error.
type ErrNotFound struct {
	Kind string
	Key  string
}

func (e *ErrNotFound) Error() string {
	return "storage: " + e.Kind + " not found: " + e.Key
}
