package orders

import (
	"testing"

	"github.com/posedge/edge/pkg/types"
)

func tableOpenedEvent(seq uint64, orderID string) types.OrderEvent {
	return types.OrderEvent{
		Sequence:  seq,
		OrderID:   orderID,
		EventType: types.EventTableOpened,
		Timestamp: int64(seq) * 1000,
		Payload: types.TableOpenedPayload{
			TableID:       "t1",
			TableName:     "Table 1",
			ZoneName:      "dine-in",
			GuestCount:    2,
			ServiceType:   "dine_in",
			ReceiptNumber: "R-0001",
		},
	}
}

func TestApplyTableOpened(t *testing.T) {
	s := &types.OrderSnapshot{}
	if err := Apply(s, tableOpenedEvent(1, "order-1")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.Status != types.OrderStatusActive {
		t.Errorf("status = %v, want Active", s.Status)
	}
	if s.ReceiptNumber != "R-0001" {
		t.Errorf("receipt number = %q", s.ReceiptNumber)
	}
	if s.LastSequence != 1 {
		t.Errorf("last sequence = %d, want 1", s.LastSequence)
	}
	if s.StateChecksum == "" {
		t.Error("expected a nonempty checksum after apply")
	}
}

func TestApplyItemsAddedCarriesInstanceIDAndAppliedRules(t *testing.T) {
	s := &types.OrderSnapshot{}
	_ = Apply(s, tableOpenedEvent(1, "order-1"))

	ev := types.OrderEvent{
		Sequence: 2, OrderID: "order-1", EventType: types.EventItemsAdded, Timestamp: 2000,
		Payload: types.ItemsAddedPayload{Items: []types.NewCartItem{
			{InstanceID: "item-1", ProductID: "p1", Name: "Burger", Price: 12, Quantity: 1},
		}},
	}
	if err := Apply(s, ev); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(s.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(s.Items))
	}
	if s.Items[0].InstanceID != "item-1" {
		t.Errorf("instance id = %q, want item-1", s.Items[0].InstanceID)
	}
	if s.Total != 12 {
		t.Errorf("total = %v, want 12", s.Total)
	}
}

func buildOrderWithOneItem(t *testing.T) *types.OrderSnapshot {
	t.Helper()
	s := &types.OrderSnapshot{}
	_ = Apply(s, tableOpenedEvent(1, "order-1"))
	_ = Apply(s, types.OrderEvent{
		Sequence: 2, OrderID: "order-1", EventType: types.EventItemsAdded, Timestamp: 2000,
		Payload: types.ItemsAddedPayload{Items: []types.NewCartItem{
			{InstanceID: "item-1", ProductID: "p1", Name: "Burger", Price: 12, Quantity: 2},
		}},
	})
	return s
}

func TestApplyItemModifiedRejectsBelowUnpaidQuantity(t *testing.T) {
	s := buildOrderWithOneItem(t)
	s.Items[0].UnpaidQuantity = 2

	err := Apply(s, types.OrderEvent{
		Sequence: 3, OrderID: "order-1", EventType: types.EventItemModified, Timestamp: 3000,
		Payload: types.ItemModifiedPayload{InstanceID: "item-1", Quantity: 1},
	})
	if err == nil {
		t.Fatal("expected an error reducing quantity below unpaid quantity")
	}
}

func TestApplyItemRemovedThenRestored(t *testing.T) {
	s := buildOrderWithOneItem(t)

	if err := Apply(s, types.OrderEvent{
		Sequence: 3, OrderID: "order-1", EventType: types.EventItemRemoved, Timestamp: 3000,
		Payload: types.ItemRemovedPayload{InstanceID: "item-1", Quantity: 2},
	}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(s.Items) != 0 {
		t.Fatalf("expected item removed from Items, got %d", len(s.Items))
	}
	if len(s.VoidedItems) != 1 {
		t.Fatalf("expected item moved to VoidedItems, got %d", len(s.VoidedItems))
	}
	if s.Total != 0 {
		t.Errorf("total after removal = %v, want 0", s.Total)
	}

	if err := Apply(s, types.OrderEvent{
		Sequence: 4, OrderID: "order-1", EventType: types.EventItemRestored, Timestamp: 4000,
		Payload: types.ItemRestoredPayload{InstanceID: "item-1"},
	}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(s.Items) != 1 {
		t.Fatalf("expected item restored to Items, got %d", len(s.Items))
	}
	if len(s.VoidedItems) != 0 {
		t.Errorf("expected VoidedItems empty after restore, got %d", len(s.VoidedItems))
	}
}

func TestApplyPaymentAddedComputesChange(t *testing.T) {
	s := buildOrderWithOneItem(t)
	if err := Apply(s, types.OrderEvent{
		Sequence: 3, OrderID: "order-1", EventType: types.EventPaymentAdded, Timestamp: 3000,
		Payload: types.PaymentAddedPayload{Method: "cash", Amount: 24, Tendered: 30},
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.Payments[0].Change != 6 {
		t.Errorf("change = %v, want 6", s.Payments[0].Change)
	}
	if s.RemainingAmount != 0 {
		t.Errorf("remaining = %v, want 0", s.RemainingAmount)
	}
}

func TestApplyPaymentCancelledRestoresRemaining(t *testing.T) {
	s := buildOrderWithOneItem(t)
	_ = Apply(s, types.OrderEvent{
		Sequence: 3, OrderID: "order-1", EventType: types.EventPaymentAdded, Timestamp: 3000,
		Payload: types.PaymentAddedPayload{Method: "cash", Amount: 24, Tendered: 24},
	})
	if err := Apply(s, types.OrderEvent{
		Sequence: 4, OrderID: "order-1", EventType: types.EventPaymentCancelled, Timestamp: 4000,
		Payload: types.PaymentCancelledPayload{PaymentIndex: 0},
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !s.Payments[0].Cancelled {
		t.Error("expected payment flagged cancelled")
	}
	if s.RemainingAmount != 24 {
		t.Errorf("remaining = %v, want 24", s.RemainingAmount)
	}
}

func TestApplyOrderCompletedRequiresNoRemaining(t *testing.T) {
	s := buildOrderWithOneItem(t)
	_ = Apply(s, types.OrderEvent{
		Sequence: 3, OrderID: "order-1", EventType: types.EventPaymentAdded, Timestamp: 3000,
		Payload: types.PaymentAddedPayload{Method: "cash", Amount: 24, Tendered: 24},
	})
	if err := Apply(s, types.OrderEvent{
		Sequence: 4, OrderID: "order-1", EventType: types.EventOrderCompleted, Timestamp: 4000,
		Payload: types.OrderCompletedPayload{},
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.Status != types.OrderStatusCompleted {
		t.Errorf("status = %v, want Completed", s.Status)
	}
}

func TestApplyMemberUnlinkedClearsMGRulesAndRedemptions(t *testing.T) {
	s := buildOrderWithOneItem(t)
	s.MemberID = "m1"
	s.StampRedemptions = []types.StampRedemption{{RewardInstanceID: "r1"}}
	s.Items[0].AppliedMGRules = []types.AppliedRule{{RuleID: "mg1", CalculatedAmount: -3}}

	if err := Apply(s, types.OrderEvent{
		Sequence: 3, OrderID: "order-1", EventType: types.EventMemberUnlinked, Timestamp: 3000,
		Payload: types.MemberUnlinkedPayload{},
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s.MemberID != "" {
		t.Error("expected member id cleared")
	}
	if len(s.StampRedemptions) != 0 {
		t.Error("expected stamp redemptions cleared")
	}
	if len(s.Items[0].AppliedMGRules) != 0 {
		t.Error("expected item applied_mg_rules cleared")
	}
}

func TestFoldReplaysDeterministically(t *testing.T) {
	events := []types.OrderEvent{
		tableOpenedEvent(1, "order-1"),
		{
			Sequence: 2, OrderID: "order-1", EventType: types.EventItemsAdded, Timestamp: 2000,
			Payload: types.ItemsAddedPayload{Items: []types.NewCartItem{
				{InstanceID: "item-1", ProductID: "p1", Name: "Burger", Price: 12, Quantity: 1},
			}},
		},
	}
	first, err := Fold(events)
	if err != nil {
		t.Fatalf("fold: %v", err)
	}
	second, err := Fold(events)
	if err != nil {
		t.Fatalf("fold: %v", err)
	}
	if first.StateChecksum != second.StateChecksum {
		t.Error("folding the same events twice produced different checksums")
	}
}

func TestVerifyChecksumDetectsTamper(t *testing.T) {
	s := buildOrderWithOneItem(t)
	if !VerifyChecksum(*s) {
		t.Fatal("expected checksum to verify before tampering")
	}
	s.Total = 99999
	if VerifyChecksum(*s) {
		t.Error("expected checksum mismatch after tampering with Total")
	}
}
