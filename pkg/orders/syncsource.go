package orders

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/posedge/edge/pkg/types"
)

// SyncSource adapts the Manager's active orders to pkg/sync.Source,
// so the sync worker can push the "orders" resource without knowing
// anything about events, snapshots, or appliers. An order's
// LastSequence (the global event sequence of the event that produced
// its current state) doubles as its sync version: it only ever
// increases, and increases on every mutation, which is exactly what a
// per-resource version needs to be.
type SyncSource struct {
	manager *Manager
}

// NewSyncSource wraps a Manager as a pkg/sync.Source for the "orders"
// resource.
func NewSyncSource(manager *Manager) *SyncSource {
	return &SyncSource{manager: manager}
}

// ResourceName identifies this source in SyncCursor/CloudSyncBatch.
func (s *SyncSource) ResourceName() string { return "orders" }

// PendingSince returns every active order whose LastSequence exceeds
// cursor, ascending by sequence, capped at limit.
//
// Orders that have left the active set (completed, voided, merged
// away, moved) are not returned: GetActiveOrders only yields snapshots
// whose status is Active, and the command that retires an order saves
// its terminal snapshot before any sync pass can read it, so an
// order's terminal state is not pushed through this source.
func (s *SyncSource) PendingSince(cursor uint64, limit int) ([]types.SyncItem, error) {
	active, err := s.manager.GetActiveOrders()
	if err != nil {
		return nil, fmt.Errorf("orders: list active orders for sync: %w", err)
	}

	pending := make([]*types.OrderSnapshot, 0, len(active))
	for _, snapshot := range active {
		if snapshot.LastSequence > cursor {
			pending = append(pending, snapshot)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].LastSequence < pending[j].LastSequence
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}

	items := make([]types.SyncItem, 0, len(pending))
	for _, snapshot := range pending {
		payload, err := json.Marshal(snapshot)
		if err != nil {
			return nil, fmt.Errorf("orders: marshal snapshot %s for sync: %w", snapshot.OrderID, err)
		}
		items = append(items, types.SyncItem{
			Resource:    "orders",
			ResourceID:  snapshot.OrderID,
			Version:     snapshot.LastSequence,
			PayloadJSON: payload,
			UpdatedAt:   time.UnixMilli(snapshot.UpdatedAt),
		})
	}
	return items, nil
}
