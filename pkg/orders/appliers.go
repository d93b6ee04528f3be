package orders

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/posedge/edge/pkg/hashchain"
	"github.com/posedge/edge/pkg/types"
)

// Fold replays a sequence-ordered event log into an OrderSnapshot,
// deterministically reconstructing the same state Apply would have
// produced event by event. Used for startup recovery and for every
// execute_command call that doesn't have a cached snapshot.
func Fold(events []types.OrderEvent) (*types.OrderSnapshot, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("orders: cannot fold an empty event list")
	}
	snapshot := &types.OrderSnapshot{}
	for _, event := range events {
		if err := Apply(snapshot, event); err != nil {
			return nil, fmt.Errorf("orders: fold order %s at sequence %d: %w", event.OrderID, event.Sequence, err)
		}
	}
	return snapshot, nil
}

// Apply mutates snapshot in place per the event's variant. Every
// applier is defensive about payload type mismatches (a programmer
// error, not a data error) and finishes by bumping last_sequence,
// updated_at, and the state checksum.
func Apply(snapshot *types.OrderSnapshot, event types.OrderEvent) error {
	recalc := false
	if snapshot.OrderID == "" {
		snapshot.OrderID = event.OrderID
	}

	switch event.EventType {
	case types.EventTableOpened:
		p, ok := event.Payload.(types.TableOpenedPayload)
		if !ok {
			return mismatchPayload(event)
		}
		applyTableOpened(snapshot, p)

	case types.EventItemsAdded:
		p, ok := event.Payload.(types.ItemsAddedPayload)
		if !ok {
			return mismatchPayload(event)
		}
		applyItemsAdded(snapshot, p)
		recalc = true

	case types.EventItemModified:
		p, ok := event.Payload.(types.ItemModifiedPayload)
		if !ok {
			return mismatchPayload(event)
		}
		if err := applyItemModified(snapshot, p); err != nil {
			return err
		}
		recalc = true

	case types.EventItemRemoved:
		p, ok := event.Payload.(types.ItemRemovedPayload)
		if !ok {
			return mismatchPayload(event)
		}
		if err := applyItemRemoved(snapshot, p); err != nil {
			return err
		}
		recalc = true

	case types.EventItemRestored:
		p, ok := event.Payload.(types.ItemRestoredPayload)
		if !ok {
			return mismatchPayload(event)
		}
		if err := applyItemRestored(snapshot, p); err != nil {
			return err
		}
		recalc = true

	case types.EventPaymentAdded:
		p, ok := event.Payload.(types.PaymentAddedPayload)
		if !ok {
			return mismatchPayload(event)
		}
		applyPaymentAdded(snapshot, p)
		recalc = true

	case types.EventPaymentCancelled:
		p, ok := event.Payload.(types.PaymentCancelledPayload)
		if !ok {
			return mismatchPayload(event)
		}
		if err := applyPaymentCancelled(snapshot, p); err != nil {
			return err
		}
		recalc = true

	case types.EventOrderCompleted:
		if _, ok := event.Payload.(types.OrderCompletedPayload); !ok {
			return mismatchPayload(event)
		}
		snapshot.Status = types.OrderStatusCompleted

	case types.EventOrderVoided:
		p, ok := event.Payload.(types.OrderVoidedPayload)
		if !ok {
			return mismatchPayload(event)
		}
		_ = p
		snapshot.Status = types.OrderStatusVoided

	case types.EventOrderRestored:
		if _, ok := event.Payload.(types.OrderRestoredPayload); !ok {
			return mismatchPayload(event)
		}
		snapshot.Status = types.OrderStatusActive

	case types.EventOrderMerged:
		p, ok := event.Payload.(types.OrderMergedPayload)
		if !ok {
			return mismatchPayload(event)
		}
		_ = p
		recalc = true

	case types.EventOrderMergedOut:
		p, ok := event.Payload.(types.OrderMergedOutPayload)
		if !ok {
			return mismatchPayload(event)
		}
		_ = p
		snapshot.Status = types.OrderStatusMerged

	case types.EventOrderMoved:
		p, ok := event.Payload.(types.OrderMovedPayload)
		if !ok {
			return mismatchPayload(event)
		}
		_ = p
		recalc = true

	case types.EventOrderMovedOut:
		p, ok := event.Payload.(types.OrderMovedOutPayload)
		if !ok {
			return mismatchPayload(event)
		}
		_ = p
		snapshot.Status = types.OrderStatusMoved

	case types.EventOrderSplit:
		p, ok := event.Payload.(types.OrderSplitPayload)
		if !ok {
			return mismatchPayload(event)
		}
		if err := applyOrderSplit(snapshot, p); err != nil {
			return err
		}
		recalc = true

	case types.EventMemberLinked:
		p, ok := event.Payload.(types.MemberLinkedPayload)
		if !ok {
			return mismatchPayload(event)
		}
		applyMemberLinked(snapshot, p)

	case types.EventMemberUnlinked:
		if _, ok := event.Payload.(types.MemberUnlinkedPayload); !ok {
			return mismatchPayload(event)
		}
		applyMemberUnlinked(snapshot)
		recalc = true

	case types.EventOrderNoteAdded:
		p, ok := event.Payload.(types.OrderNoteAddedPayload)
		if !ok {
			return mismatchPayload(event)
		}
		_ = p // note field lives outside the modeled snapshot fields; payload carries it for audit/receipt replay

	case types.EventOrderInfoUpdated:
		p, ok := event.Payload.(types.OrderInfoUpdatedPayload)
		if !ok {
			return mismatchPayload(event)
		}
		if p.TableName != "" {
			snapshot.TableName = p.TableName
		}
		if p.GuestCount != 0 {
			snapshot.GuestCount = p.GuestCount
		}

	case types.EventRuleSkipToggled:
		p, ok := event.Payload.(types.RuleSkipToggledPayload)
		if !ok {
			return mismatchPayload(event)
		}
		if err := applyRuleSkipToggled(snapshot, p); err != nil {
			return err
		}
		recalc = true

	case types.EventTableReassigned:
		p, ok := event.Payload.(types.TableReassignedPayload)
		if !ok {
			return mismatchPayload(event)
		}
		snapshot.TableID = p.TableID
		snapshot.TableName = p.TableName

	default:
		return fmt.Errorf("orders: unknown event type %d, refusing to apply", event.EventType)
	}

	snapshot.LastSequence = event.Sequence
	snapshot.UpdatedAt = event.Timestamp
	if recalc {
		recalculateTotals(snapshot)
	}
	updateChecksum(snapshot)
	return nil
}

func mismatchPayload(event types.OrderEvent) error {
	return fmt.Errorf("orders: payload type mismatch for event %s on order %s: got %T", event.EventType, event.OrderID, event.Payload)
}

func applyTableOpened(s *types.OrderSnapshot, p types.TableOpenedPayload) {
	s.ReceiptNumber = p.ReceiptNumber
	s.Status = types.OrderStatusActive
	s.TableID = p.TableID
	s.TableName = p.TableName
	s.ZoneName = p.ZoneName
	s.GuestCount = p.GuestCount
	s.ServiceType = p.ServiceType
	s.Items = nil
	s.Payments = nil
}

func applyItemsAdded(s *types.OrderSnapshot, p types.ItemsAddedPayload) {
	for _, item := range p.Items {
		s.Items = append(s.Items, types.CartItemSnapshot{
			InstanceID:     item.InstanceID,
			ProductID:      item.ProductID,
			Name:           item.Name,
			SpecName:       item.SpecName,
			Price:          item.Price,
			UnitPrice:      item.Price,
			Quantity:       item.Quantity,
			UnpaidQuantity: item.Quantity,
			Attributes:     item.Attributes,
			AppliedRules:   item.AppliedRules,
			Note:           item.Note,
		})
	}
}

func findItem(s *types.OrderSnapshot, instanceID string) (*types.CartItemSnapshot, int) {
	for i := range s.Items {
		if s.Items[i].InstanceID == instanceID {
			return &s.Items[i], i
		}
	}
	return nil, -1
}

// itemHasRule reports whether ruleID is present in either of item's
// applied-rule lists, the same lookup applyRuleSkipToggled uses to
// decide whether a toggle is legal. The command processor calls this
// before emitting RuleSkipToggled so a rule id that isn't on the item
// is rejected as a validation error instead of reaching the event
// store and failing only when replayed/applied.
func itemHasRule(item *types.CartItemSnapshot, ruleID string) bool {
	for _, r := range item.AppliedRules {
		if r.RuleID == ruleID {
			return true
		}
	}
	for _, r := range item.AppliedMGRules {
		if r.RuleID == ruleID {
			return true
		}
	}
	return false
}

func applyItemModified(s *types.OrderSnapshot, p types.ItemModifiedPayload) error {
	item, _ := findItem(s, p.InstanceID)
	if item == nil {
		return newCommandError(types.ErrItemNotFound, "item "+p.InstanceID+" not found")
	}
	if p.Quantity != 0 {
		if item.UnpaidQuantity > p.Quantity {
			return newCommandError(types.ErrInvalidOperation, "cannot reduce quantity below unpaid quantity")
		}
		item.Quantity = p.Quantity
	}
	if p.SpecName != "" {
		item.SpecName = p.SpecName
	}
	if p.Note != "" {
		item.Note = p.Note
	}
	return nil
}

func applyItemRemoved(s *types.OrderSnapshot, p types.ItemRemovedPayload) error {
	item, idx := findItem(s, p.InstanceID)
	if item == nil {
		return newCommandError(types.ErrItemNotFound, "item "+p.InstanceID+" not found")
	}
	voided := *item
	s.VoidedItems = append(s.VoidedItems, voided)
	s.Items = append(s.Items[:idx], s.Items[idx+1:]...)
	return nil
}

func applyItemRestored(s *types.OrderSnapshot, p types.ItemRestoredPayload) error {
	for i, item := range s.VoidedItems {
		if item.InstanceID == p.InstanceID {
			s.Items = append(s.Items, item)
			s.VoidedItems = append(s.VoidedItems[:i], s.VoidedItems[i+1:]...)
			return nil
		}
	}
	return newCommandError(types.ErrItemNotFound, "voided item "+p.InstanceID+" not found")
}

func applyPaymentAdded(s *types.OrderSnapshot, p types.PaymentAddedPayload) {
	change := 0.0
	if p.Tendered > p.Amount {
		change = p.Tendered - p.Amount
	}
	s.Payments = append(s.Payments, types.PaymentRecord{
		Method:    p.Method,
		Amount:    p.Amount,
		Tendered:  p.Tendered,
		Change:    round2(change),
		Reference: p.Reference,
	})
}

func applyPaymentCancelled(s *types.OrderSnapshot, p types.PaymentCancelledPayload) error {
	if p.PaymentIndex < 0 || p.PaymentIndex >= len(s.Payments) {
		return newCommandError(types.ErrPaymentNotFound, "payment index out of range")
	}
	s.Payments[p.PaymentIndex].Cancelled = true
	return nil
}

func applyOrderSplit(s *types.OrderSnapshot, p types.OrderSplitPayload) error {
	ids := make(map[string]bool, len(p.InstanceIDs))
	for _, id := range p.InstanceIDs {
		ids[id] = true
	}
	kept := s.Items[:0:0]
	for _, item := range s.Items {
		if !ids[item.InstanceID] {
			kept = append(kept, item)
		}
	}
	s.Items = kept
	return nil
}

func applyMemberLinked(s *types.OrderSnapshot, p types.MemberLinkedPayload) {
	s.MemberID = p.MemberID
	s.MemberName = p.MemberName
	s.MarketingGroupID = p.MarketingGroupID
	s.MarketingGroupName = p.MarketingGroupName
}

func applyMemberUnlinked(s *types.OrderSnapshot) {
	s.MemberID = ""
	s.MemberName = ""
	s.MarketingGroupID = ""
	s.MarketingGroupName = ""
	s.StampRedemptions = nil
	for i := range s.Items {
		s.Items[i].AppliedMGRules = nil
	}
}

func applyRuleSkipToggled(s *types.OrderSnapshot, p types.RuleSkipToggledPayload) error {
	item, _ := findItem(s, p.InstanceID)
	if item == nil {
		return newCommandError(types.ErrItemNotFound, "item "+p.InstanceID+" not found")
	}
	found := false
	for i := range item.AppliedRules {
		if item.AppliedRules[i].RuleID == p.RuleID {
			item.AppliedRules[i].Skipped = p.Skipped
			found = true
		}
	}
	for i := range item.AppliedMGRules {
		if item.AppliedMGRules[i].RuleID == p.RuleID {
			item.AppliedMGRules[i].Skipped = p.Skipped
			found = true
		}
	}
	if !found {
		return newCommandError(types.ErrInvalidOperation, "rule "+p.RuleID+" not applied to item "+p.InstanceID)
	}
	return nil
}

// updateChecksum recomputes state_checksum over the snapshot's money
// and identity fields, the same way the event chain hashes canonical
// bytes, so a tampered snapshot cache is detectable independent of the
// event log.
func updateChecksum(s *types.OrderSnapshot) {
	e := hashchain.NewEncoder()
	e.String(s.OrderID).String(s.ReceiptNumber).String(string(s.Status))
	e.Int32(int32(len(s.Items)))
	for _, item := range s.Items {
		e.String(item.InstanceID).Float64(item.Quantity).Float64(item.UnitPrice).Float64(item.LineTotal)
	}
	e.Float64(s.Total).Float64(s.PaidAmount).Float64(s.RemainingAmount)
	e.Uint64(s.LastSequence)
	sum := sha256.Sum256(e.Finish())
	s.StateChecksum = hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether state_checksum still matches the
// snapshot's current contents.
func VerifyChecksum(s types.OrderSnapshot) bool {
	want := s.StateChecksum
	updateChecksum(&s)
	return s.StateChecksum == want
}
