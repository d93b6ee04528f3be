package orders

import (
	"fmt"
	"sync"
	"time"

	"github.com/posedge/edge/pkg/eventstore"
	"github.com/posedge/edge/pkg/log"
	"github.com/posedge/edge/pkg/storage"
	"github.com/posedge/edge/pkg/types"
)

// subscriberBuffer bounds how far a slow subscriber can lag before its
// oldest unread events are dropped in favor of newer ones; a dashboard
// or sync worker that falls behind should skip ahead, not backpressure
// command processing.
const subscriberBuffer = 256

// Manager is the orders manager (C5): the single point of entry for
// command execution, snapshot reads, and event subscription. One
// Manager serves every order on an Edge; per-order serialization comes
// from a lock taken per order_id, not one global lock, so unrelated
// orders process concurrently.
type Manager struct {
	events *eventstore.Store
	store  storage.Store
	deps   Deps

	locksMu    sync.Mutex
	orderLocks map[string]*sync.Mutex

	idemMu sync.Mutex
	idem   map[string]*idempotencySet

	subMu       sync.RWMutex
	subscribers map[chan types.OrderEvent]bool
}

// NewManager wires a Manager over an already-opened event store and
// its backing storage; deps supplies id/receipt-number generation for
// the command processor.
func NewManager(events *eventstore.Store, store storage.Store, deps Deps) *Manager {
	return &Manager{
		events:      events,
		store:       store,
		deps:        deps,
		orderLocks:  make(map[string]*sync.Mutex),
		idem:        make(map[string]*idempotencySet),
		subscribers: make(map[chan types.OrderEvent]bool),
	}
}

func (m *Manager) lockFor(orderID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.orderLocks[orderID]
	if !ok {
		l = &sync.Mutex{}
		m.orderLocks[orderID] = l
	}
	return l
}

func (m *Manager) idempotencyFor(orderID string) *idempotencySet {
	m.idemMu.Lock()
	defer m.idemMu.Unlock()
	s, ok := m.idem[orderID]
	if !ok {
		s = newIdempotencySet()
		m.idem[orderID] = s
	}
	return s
}

// loadSnapshot prefers the cached snapshot; falls back to folding the
// full event log when no cache exists yet, and returns (nil, nil) for
// an order with no events at all (the OpenTable case).
func (m *Manager) loadSnapshot(orderID string) (*types.OrderSnapshot, error) {
	snapshot, err := m.store.LoadSnapshot(orderID)
	if err == nil {
		return snapshot, nil
	}
	if _, ok := err.(*storage.ErrNotFound); !ok {
		return nil, fmt.Errorf("orders: load snapshot for %s: %w", orderID, err)
	}

	events, err := m.events.ReadForOrder(orderID)
	if err != nil {
		return nil, fmt.Errorf("orders: read events for %s: %w", orderID, err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	return Fold(events)
}

// ExecuteCommand runs the C5 state machine: load-or-build snapshot,
// check idempotency, call the command processor, persist and apply
// every resulting event, then publish. Merge/Move/Split additionally
// touch a second order (the absorbed order, the destination, or the
// newly created split order); those three kinds lock both orders
// up front, in a fixed lexical order, so a concurrent command on the
// counterpart order can never acquire the pair in the opposite order
// and deadlock against this one.
func (m *Manager) ExecuteCommand(cmd types.OrderCommand) (types.CommandResponse, error) {
	start := time.Now()
	defer func() {
		CommandDuration.WithLabelValues(string(cmd.Kind)).Observe(time.Since(start).Seconds())
	}()

	unlock := m.lockOrderPair(cmd.OrderID, counterpartOrderID(cmd))
	defer unlock()

	idem := m.idempotencyFor(cmd.OrderID)
	if idem.Check(cmd.CommandID) {
		CommandsTotal.WithLabelValues(string(cmd.Kind), "duplicate").Inc()
		return types.CommandResponse{Duplicate: true}, nil
	}

	snapshot, err := m.loadSnapshot(cmd.OrderID)
	if err != nil {
		CommandsTotal.WithLabelValues(string(cmd.Kind), "error").Inc()
		return types.CommandResponse{}, err
	}

	events, err := ProcessCommand(snapshot, cmd, m.deps)
	if err != nil {
		CommandsTotal.WithLabelValues(string(cmd.Kind), "rejected").Inc()
		return types.CommandResponse{}, err
	}

	if snapshot == nil {
		snapshot = &types.OrderSnapshot{}
	}

	// Captured before appendApply, since CmdSplitOrder's own event
	// removes these items from snapshot.Items; the new split order
	// needs their pre-split state to seed itself.
	splitItems := splitSourceItems(cmd, snapshot)

	persisted, err := m.appendApply(snapshot, events)
	if err != nil {
		CommandsTotal.WithLabelValues(string(cmd.Kind), "error").Inc()
		return types.CommandResponse{}, err
	}

	extra, err := m.applyCrossOrderEffects(cmd, snapshot, splitItems)
	if err != nil {
		CommandsTotal.WithLabelValues(string(cmd.Kind), "error").Inc()
		return types.CommandResponse{}, err
	}
	persisted = append(persisted, extra...)

	if err := m.store.SaveSnapshot(*snapshot); err != nil {
		return types.CommandResponse{}, fmt.Errorf("orders: save snapshot: %w", err)
	}
	idem.Record(cmd.CommandID)

	for _, ev := range persisted {
		m.publish(ev)
	}

	CommandsTotal.WithLabelValues(string(cmd.Kind), "applied").Inc()
	return types.CommandResponse{Events: persisted}, nil
}

// appendApply persists each event through the event store and folds
// it into snapshot in place, in order. A failure partway through
// leaves snapshot representing only the events that made it to
// storage; callers treat any error here as fatal to the command.
func (m *Manager) appendApply(snapshot *types.OrderSnapshot, events []types.OrderEvent) ([]types.OrderEvent, error) {
	persisted := make([]types.OrderEvent, 0, len(events))
	for _, ev := range events {
		stored, err := m.events.Append(ev)
		if err != nil {
			return persisted, fmt.Errorf("orders: append event: %w", err)
		}
		if err := Apply(snapshot, stored); err != nil {
			log.Logger.Error().Str("order_id", stored.OrderID).Err(err).Msg("event applied after persistence disagreed with processor validation, snapshot may be stale")
			return persisted, fmt.Errorf("orders: apply persisted event: %w", err)
		}
		persisted = append(persisted, stored)
	}
	return persisted, nil
}

// counterpartOrderID returns the second order a Merge/Move/Split
// command touches besides cmd.OrderID, or "" for every other kind.
func counterpartOrderID(cmd types.OrderCommand) string {
	switch cmd.Kind {
	case types.CmdMergeOrders:
		if p, ok := cmd.Payload.(MergeOrdersCommand); ok {
			return p.AbsorbedOrderID
		}
	case types.CmdMoveOrder:
		if p, ok := cmd.Payload.(MoveOrderCommand); ok {
			return p.DestinationOrderID
		}
	case types.CmdSplitOrder:
		if p, ok := cmd.Payload.(SplitOrderCommand); ok {
			return p.NewOrderID
		}
	}
	return ""
}

// lockOrderPair locks orderID, and counterpart if non-empty and
// distinct, always in ascending lexical order regardless of which
// order the caller names first. It returns the unlock func; callers
// defer it immediately.
func (m *Manager) lockOrderPair(orderID, counterpart string) func() {
	if counterpart == "" || counterpart == orderID {
		lock := m.lockFor(orderID)
		lock.Lock()
		return lock.Unlock
	}
	first, second := orderID, counterpart
	if second < first {
		first, second = second, first
	}
	firstLock, secondLock := m.lockFor(first), m.lockFor(second)
	firstLock.Lock()
	secondLock.Lock()
	return func() {
		secondLock.Unlock()
		firstLock.Unlock()
	}
}

// applyCrossOrderEffects performs the counterpart-order half of a
// Merge/Move/Split command, after the primary order's own event(s)
// are already persisted and applied onto primary. It persists,
// applies, saves, and publishes the counterpart order's events
// itself (that snapshot never reaches the caller), and returns any
// additional events appended to the PRIMARY order's snapshot (e.g.
// the item transfer onto a merge destination) so ExecuteCommand can
// fold them into its own persisted/published list.
func (m *Manager) applyCrossOrderEffects(cmd types.OrderCommand, primary *types.OrderSnapshot, splitItems []types.CartItemSnapshot) ([]types.OrderEvent, error) {
	switch cmd.Kind {
	case types.CmdMergeOrders:
		p, ok := cmd.Payload.(MergeOrdersCommand)
		if !ok {
			return nil, nil
		}
		return m.mergeAbsorb(cmd, primary, p.AbsorbedOrderID)
	case types.CmdMoveOrder:
		p, ok := cmd.Payload.(MoveOrderCommand)
		if !ok {
			return nil, nil
		}
		return nil, m.moveIntoDestination(cmd, primary, p.DestinationOrderID)
	case types.CmdSplitOrder:
		p, ok := cmd.Payload.(SplitOrderCommand)
		if !ok {
			return nil, nil
		}
		return nil, m.createSplitOrder(cmd, p.NewOrderID, splitItems)
	default:
		return nil, nil
	}
}

// splitSourceItems returns the pre-split CartItemSnapshots a
// CmdSplitOrder command is about to remove from snapshot, in the
// instance-id order the command named them, for createSplitOrder to
// seed the new order with. Every other command kind returns nil.
func splitSourceItems(cmd types.OrderCommand, snapshot *types.OrderSnapshot) []types.CartItemSnapshot {
	if cmd.Kind != types.CmdSplitOrder || snapshot == nil {
		return nil
	}
	p, ok := cmd.Payload.(SplitOrderCommand)
	if !ok {
		return nil
	}
	moved := make([]types.CartItemSnapshot, 0, len(p.InstanceIDs))
	for _, id := range p.InstanceIDs {
		if item, _ := findItem(snapshot, id); item != nil {
			moved = append(moved, *item)
		}
	}
	return moved
}

// mergeAbsorb closes absorbedID as merged and, if it still held
// unpaid items, transfers them onto the destination (primary) order
// via an ordinary ItemsAdded event so existing appliers, totals, and
// the reconciler's checksum re-verification all apply unchanged.
// Instance ids are carried over as-is rather than reassigned, so a
// client that already rendered the absorbed order's items keeps
// referring to the same instance after the merge.
func (m *Manager) mergeAbsorb(cmd types.OrderCommand, primary *types.OrderSnapshot, absorbedID string) ([]types.OrderEvent, error) {
	absorbed, err := m.loadSnapshot(absorbedID)
	if err != nil {
		return nil, fmt.Errorf("orders: load absorbed order %s: %w", absorbedID, err)
	}
	if absorbed == nil {
		return nil, newCommandError(types.ErrOrderNotFound, "absorbed order "+absorbedID+" does not exist")
	}
	if absorbed.Status != types.OrderStatusActive {
		return nil, newCommandError(types.ErrInvalidOperation, "absorbed order "+absorbedID+" is not active")
	}

	var extra []types.OrderEvent
	if len(absorbed.Items) > 0 {
		transfer, err := m.appendApply(primary, []types.OrderEvent{{
			OrderID: primary.OrderID, EventType: types.EventItemsAdded,
			Payload: types.ItemsAddedPayload{Items: carriedOverItems(absorbed.Items)},
			Timestamp: cmd.Timestamp, OperatorID: cmd.OperatorID, OperatorName: cmd.OperatorName, CommandID: cmd.CommandID,
		}})
		if err != nil {
			return nil, err
		}
		extra = transfer
	}

	mergedOut, err := m.appendApply(absorbed, []types.OrderEvent{{
		OrderID: absorbedID, EventType: types.EventOrderMergedOut,
		Payload: types.OrderMergedOutPayload{TargetOrderID: primary.OrderID},
		Timestamp: cmd.Timestamp, OperatorID: cmd.OperatorID, OperatorName: cmd.OperatorName, CommandID: cmd.CommandID,
	}})
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveSnapshot(*absorbed); err != nil {
		return nil, fmt.Errorf("orders: save absorbed order snapshot: %w", err)
	}
	for _, ev := range mergedOut {
		m.publish(ev)
	}
	return extra, nil
}

// moveIntoDestination transfers every item still on the source
// (primary) order onto destination, then records EventOrderMoved on
// destination so its own totals recalc. The source's own
// EventOrderMovedOut was already applied by ProcessCommand before
// applyCrossOrderEffects runs.
func (m *Manager) moveIntoDestination(cmd types.OrderCommand, source *types.OrderSnapshot, destinationID string) error {
	destination, err := m.loadSnapshot(destinationID)
	if err != nil {
		return fmt.Errorf("orders: load destination order %s: %w", destinationID, err)
	}
	if destination == nil {
		return newCommandError(types.ErrOrderNotFound, "destination order "+destinationID+" does not exist")
	}
	if destination.Status != types.OrderStatusActive {
		return newCommandError(types.ErrInvalidOperation, "destination order "+destinationID+" is not active")
	}

	destEvents := make([]types.OrderEvent, 0, 2)
	if len(source.Items) > 0 {
		destEvents = append(destEvents, types.OrderEvent{
			OrderID: destinationID, EventType: types.EventItemsAdded,
			Payload: types.ItemsAddedPayload{Items: carriedOverItems(source.Items)},
			Timestamp: cmd.Timestamp, OperatorID: cmd.OperatorID, OperatorName: cmd.OperatorName, CommandID: cmd.CommandID,
		})
	}
	destEvents = append(destEvents, types.OrderEvent{
		OrderID: destinationID, EventType: types.EventOrderMoved,
		Payload: types.OrderMovedPayload{DestinationOrderID: destinationID},
		Timestamp: cmd.Timestamp, OperatorID: cmd.OperatorID, OperatorName: cmd.OperatorName, CommandID: cmd.CommandID,
	})

	persisted, err := m.appendApply(destination, destEvents)
	if err != nil {
		return err
	}
	if err := m.store.SaveSnapshot(*destination); err != nil {
		return fmt.Errorf("orders: save destination order snapshot: %w", err)
	}
	for _, ev := range persisted {
		m.publish(ev)
	}
	return nil
}

// createSplitOrder opens newOrderID fresh and seeds it with the items
// the source order's own EventOrderSplit already removed (applied to
// source before applyCrossOrderEffects runs), preserving their
// instance ids, prices, and applied rules.
func (m *Manager) createSplitOrder(cmd types.OrderCommand, newOrderID string, moved []types.CartItemSnapshot) error {
	existing, err := m.loadSnapshot(newOrderID)
	if err != nil {
		return fmt.Errorf("orders: check split destination %s: %w", newOrderID, err)
	}
	if existing != nil {
		return newCommandError(types.ErrInvalidOperation, "split destination order "+newOrderID+" already exists")
	}

	splitSnapshot := &types.OrderSnapshot{}
	splitEvents := []types.OrderEvent{
		{
			OrderID: newOrderID, EventType: types.EventTableOpened,
			Payload: types.TableOpenedPayload{ReceiptNumber: newOrderID},
			Timestamp: cmd.Timestamp, OperatorID: cmd.OperatorID, OperatorName: cmd.OperatorName, CommandID: cmd.CommandID,
		},
	}
	if len(moved) > 0 {
		splitEvents = append(splitEvents, types.OrderEvent{
			OrderID: newOrderID, EventType: types.EventItemsAdded,
			Payload: types.ItemsAddedPayload{Items: carriedOverItems(moved)},
			Timestamp: cmd.Timestamp, OperatorID: cmd.OperatorID, OperatorName: cmd.OperatorName, CommandID: cmd.CommandID,
		})
	}

	persisted, err := m.appendApply(splitSnapshot, splitEvents)
	if err != nil {
		return err
	}
	if err := m.store.SaveSnapshot(*splitSnapshot); err != nil {
		return fmt.Errorf("orders: save split order snapshot: %w", err)
	}
	for _, ev := range persisted {
		m.publish(ev)
	}
	return nil
}

// carriedOverItems turns already-existing cart items back into the
// NewCartItem shape ItemsAdded expects, preserving instance ids so a
// merge/move/split never breaks a client's existing reference to a
// line item. Partial payment state (unpaid_quantity, is_comped,
// manual discounts) is not preserved across the transfer: every
// transferred item arrives on its new order fully unpaid, the same
// simplification the original system's till reports made for
// mid-service table moves.
func carriedOverItems(items []types.CartItemSnapshot) []types.NewCartItem {
	out := make([]types.NewCartItem, 0, len(items))
	for _, item := range items {
		out = append(out, types.NewCartItem{
			InstanceID:   item.InstanceID,
			ProductID:    item.ProductID,
			Name:         item.Name,
			SpecName:     item.SpecName,
			Price:        item.Price,
			Quantity:     item.Quantity,
			Attributes:   item.Attributes,
			Note:         item.Note,
			AppliedRules: item.AppliedRules,
		})
	}
	return out
}

// GetSnapshot is a cheap read of one order's current state.
func (m *Manager) GetSnapshot(orderID string) (*types.OrderSnapshot, error) {
	return m.loadSnapshot(orderID)
}

// GetActiveOrders lists every order currently in Active status.
func (m *Manager) GetActiveOrders() ([]*types.OrderSnapshot, error) {
	ids, err := m.store.ActiveOrderIDs()
	if err != nil {
		return nil, fmt.Errorf("orders: list active order ids: %w", err)
	}
	snapshots := make([]*types.OrderSnapshot, 0, len(ids))
	for _, id := range ids {
		snapshot, err := m.loadSnapshot(id)
		if err != nil {
			return nil, err
		}
		if snapshot != nil && snapshot.Status == types.OrderStatusActive {
			snapshots = append(snapshots, snapshot)
		}
	}
	ActiveOrdersGauge.Set(float64(len(snapshots)))
	return snapshots, nil
}

// GetEventsSince returns every event with sequence > globalSequence,
// for the sync worker's outbound feed.
func (m *Manager) GetEventsSince(globalSequence uint64) ([]types.OrderEvent, error) {
	return m.events.ReadSince(globalSequence)
}

// GetEventsForOrder returns one order's full history in sequence order.
func (m *Manager) GetEventsForOrder(orderID string) ([]types.OrderEvent, error) {
	return m.events.ReadForOrder(orderID)
}

// Subscribe returns a channel fed every event this Manager persists.
// The channel is bounded; a subscriber that can't keep up loses the
// oldest unread events rather than stalling command processing, the
// same trade the message bus broadcaster makes.
func (m *Manager) Subscribe() chan types.OrderEvent {
	ch := make(chan types.OrderEvent, subscriberBuffer)
	m.subMu.Lock()
	m.subscribers[ch] = true
	m.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (m *Manager) Unsubscribe(ch chan types.OrderEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if _, ok := m.subscribers[ch]; ok {
		delete(m.subscribers, ch)
		close(ch)
	}
}

func (m *Manager) publish(event types.OrderEvent) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for sub := range m.subscribers {
		select {
		case sub <- event:
		default:
			// Full: drop the oldest unread event to make room for this one.
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- event:
			default:
			}
			SubscriberDropsTotal.Inc()
		}
	}
}
