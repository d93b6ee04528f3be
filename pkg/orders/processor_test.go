package orders

import (
	"errors"
	"testing"

	"github.com/posedge/edge/pkg/types"
)

func testDeps() Deps {
	counter := 0
	return Deps{
		NewInstanceID: func() string {
			counter++
			return "instance-" + string(rune('a'+counter-1))
		},
		NewReceiptNumber: func() string { return "R-TEST" },
	}
}

func baseCommand(orderID string, kind types.CommandKind, payload any) types.OrderCommand {
	return types.OrderCommand{
		CommandID:    "cmd-1",
		OrderID:      orderID,
		Kind:         kind,
		OperatorID:   "op-1",
		OperatorName: "Operator",
		Timestamp:    1000,
		Payload:      payload,
	}
}

func TestProcessCommandOpenTableOnNilSnapshot(t *testing.T) {
	cmd := baseCommand("order-1", types.CmdOpenTable, OpenTableCommand{TableID: "t1", TableName: "Table 1"})
	events, err := ProcessCommand(nil, cmd, testDeps())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].EventType != types.EventTableOpened {
		t.Fatalf("expected one TableOpened event, got %+v", events)
	}
}

func TestProcessCommandRejectsUnknownOrder(t *testing.T) {
	cmd := baseCommand("order-1", types.CmdAddItems, AddItemsCommand{})
	_, err := ProcessCommand(nil, cmd, testDeps())
	var cerr *CommandError
	if !errors.As(err, &cerr) || cerr.Code != types.ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func activeSnapshot() *types.OrderSnapshot {
	return &types.OrderSnapshot{
		OrderID: "order-1",
		Status:  types.OrderStatusActive,
		ZoneName: "dine-in",
	}
}

func TestProcessCommandAddItemsAssignsInstanceIDAndResolvesRules(t *testing.T) {
	snapshot := activeSnapshot()
	cmd := baseCommand("order-1", types.CmdAddItems, AddItemsCommand{
		Items: []ItemRequest{
			{ProductID: "p1", Name: "Burger", Price: 10, Quantity: 1, RuleCandidates: []PriceRule{
				{RuleID: "r1", Scope: ScopeGlobal, AdjustmentType: AdjustmentFixed, AdjustmentValue: -1},
			}},
		},
	})
	events, err := ProcessCommand(snapshot, cmd, testDeps())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payload := events[0].Payload.(types.ItemsAddedPayload)
	if payload.Items[0].InstanceID == "" {
		t.Error("expected a nonempty instance id")
	}
	if len(payload.Items[0].AppliedRules) != 1 {
		t.Fatalf("expected one resolved rule, got %d", len(payload.Items[0].AppliedRules))
	}
}

func TestProcessCommandAddPaymentRejectsOverpaymentNonCash(t *testing.T) {
	snapshot := activeSnapshot()
	snapshot.RemainingAmount = 10
	cmd := baseCommand("order-1", types.CmdAddPayment, AddPaymentCommand{Method: "card", Amount: 50})
	_, err := ProcessCommand(snapshot, cmd, testDeps())
	var cerr *CommandError
	if !errors.As(err, &cerr) || cerr.Code != types.ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestProcessCommandAddPaymentRejectsNonPositiveAmount(t *testing.T) {
	snapshot := activeSnapshot()
	cmd := baseCommand("order-1", types.CmdAddPayment, AddPaymentCommand{Method: "cash", Amount: 0})
	_, err := ProcessCommand(snapshot, cmd, testDeps())
	var cerr *CommandError
	if !errors.As(err, &cerr) || cerr.Code != types.ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestProcessCommandCompleteOrderRejectsNonzeroRemaining(t *testing.T) {
	snapshot := activeSnapshot()
	snapshot.RemainingAmount = 5
	cmd := baseCommand("order-1", types.CmdCompleteOrder, CompleteOrderCommand{})
	_, err := ProcessCommand(snapshot, cmd, testDeps())
	var cerr *CommandError
	if !errors.As(err, &cerr) || cerr.Code != types.ErrInvalidOperation {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestProcessCommandCompleteOrderSucceedsAtZeroRemaining(t *testing.T) {
	snapshot := activeSnapshot()
	cmd := baseCommand("order-1", types.CmdCompleteOrder, CompleteOrderCommand{})
	events, err := ProcessCommand(snapshot, cmd, testDeps())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if events[0].EventType != types.EventOrderCompleted {
		t.Errorf("expected OrderCompleted event, got %v", events[0].EventType)
	}
}

func TestProcessCommandRejectsCommandsOnCompletedOrder(t *testing.T) {
	snapshot := activeSnapshot()
	snapshot.Status = types.OrderStatusCompleted
	cmd := baseCommand("order-1", types.CmdAddItems, AddItemsCommand{Items: []ItemRequest{{ProductID: "p1", Quantity: 1}}})
	_, err := ProcessCommand(snapshot, cmd, testDeps())
	var cerr *CommandError
	if !errors.As(err, &cerr) || cerr.Code != types.ErrOrderAlreadyCompleted {
		t.Fatalf("expected ErrOrderAlreadyCompleted, got %v", err)
	}
}

func TestProcessCommandRestoreOrderAllowedOnCompleted(t *testing.T) {
	snapshot := activeSnapshot()
	snapshot.Status = types.OrderStatusCompleted
	cmd := baseCommand("order-1", types.CmdRestoreOrder, RestoreOrderCommand{})
	events, err := ProcessCommand(snapshot, cmd, testDeps())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if events[0].EventType != types.EventOrderRestored {
		t.Errorf("expected OrderRestored event, got %v", events[0].EventType)
	}
}

func TestProcessCommandVoidOrderRejectsInvalidVoidType(t *testing.T) {
	snapshot := activeSnapshot()
	cmd := baseCommand("order-1", types.CmdVoidOrder, VoidOrderCommand{VoidType: "bogus"})
	_, err := ProcessCommand(snapshot, cmd, testDeps())
	var cerr *CommandError
	if !errors.As(err, &cerr) || cerr.Code != types.ErrInvalidOperation {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestProcessCommandModifyItemRejectsBelowUnpaidQuantity(t *testing.T) {
	snapshot := activeSnapshot()
	snapshot.Items = []types.CartItemSnapshot{{InstanceID: "item-1", Price: 10, Quantity: 2, UnpaidQuantity: 2}}
	cmd := baseCommand("order-1", types.CmdModifyItem, ModifyItemCommand{InstanceID: "item-1", Quantity: 1})
	_, err := ProcessCommand(snapshot, cmd, testDeps())
	var cerr *CommandError
	if !errors.As(err, &cerr) || cerr.Code != types.ErrInvalidOperation {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestProcessCommandRemoveItemUnknownInstance(t *testing.T) {
	snapshot := activeSnapshot()
	cmd := baseCommand("order-1", types.CmdRemoveItem, RemoveItemCommand{InstanceID: "missing"})
	_, err := ProcessCommand(snapshot, cmd, testDeps())
	var cerr *CommandError
	if !errors.As(err, &cerr) || cerr.Code != types.ErrItemNotFound {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestProcessCommandToggleRuleSkipRejectsUnknownRuleID(t *testing.T) {
	snapshot := activeSnapshot()
	snapshot.Items = []types.CartItemSnapshot{{
		InstanceID:   "item-1",
		AppliedRules: []types.AppliedRule{{RuleID: "r1"}},
	}}
	cmd := baseCommand("order-1", types.CmdToggleRuleSkip, ToggleRuleSkipCommand{InstanceID: "item-1", RuleID: "does-not-exist", Skipped: true})
	_, err := ProcessCommand(snapshot, cmd, testDeps())
	var cerr *CommandError
	if !errors.As(err, &cerr) || cerr.Code != types.ErrInvalidOperation {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestProcessCommandToggleRuleSkipAcceptsKnownRuleID(t *testing.T) {
	snapshot := activeSnapshot()
	snapshot.Items = []types.CartItemSnapshot{{
		InstanceID:     "item-1",
		AppliedMGRules: []types.AppliedRule{{RuleID: "mg-1"}},
	}}
	cmd := baseCommand("order-1", types.CmdToggleRuleSkip, ToggleRuleSkipCommand{InstanceID: "item-1", RuleID: "mg-1", Skipped: true})
	events, err := ProcessCommand(snapshot, cmd, testDeps())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].EventType != types.EventRuleSkipToggled {
		t.Fatalf("expected one RuleSkipToggled event, got %+v", events)
	}
}
