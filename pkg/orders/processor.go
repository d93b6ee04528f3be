package orders

import (
	"github.com/google/uuid"
	"github.com/posedge/edge/pkg/types"
)

// amountEpsilon absorbs float rounding noise when comparing a tendered
// non-cash amount against the remaining balance.
const amountEpsilon = 0.01

// Deps are the processor's injected side-channels: everything that
// isn't pure data already on the snapshot or command. Orchestration
// that needs visibility across orders (cross-order item transfer for
// Merge/Move/Split) lives one layer up in the orders manager, which
// has that visibility; table occupancy is not tracked by either
// layer. The processor stays a pure
// function of one order's snapshot plus one command.
type Deps struct {
	NewInstanceID   func() string
	NewReceiptNumber func() string
}

// DefaultDeps wires NewInstanceID to a random UUID; callers that need
// deterministic ids in tests pass their own Deps.
func DefaultDeps() Deps {
	return Deps{
		NewInstanceID:    func() string { return uuid.NewString() },
		NewReceiptNumber: func() string { return "" },
	}
}

// ProcessCommand turns one command into the events it produces against
// snapshot (nil for a not-yet-existing order, valid only for
// CmdOpenTable). It never mutates snapshot; callers apply the returned
// events through Apply and persist them through the event store.
func ProcessCommand(snapshot *types.OrderSnapshot, cmd types.OrderCommand, deps Deps) ([]types.OrderEvent, error) {
	if cmd.Kind != types.CmdOpenTable {
		if cerr := requireOrder(snapshot, cmd.Kind); cerr != nil {
			return nil, cerr
		}
	}

	switch cmd.Kind {
	case types.CmdOpenTable:
		p, ok := cmd.Payload.(OpenTableCommand)
		if !ok {
			return nil, newCommandError(types.ErrInternalError, "bad payload for OpenTable")
		}
		receiptNumber := p.TableID
		if deps.NewReceiptNumber != nil {
			if n := deps.NewReceiptNumber(); n != "" {
				receiptNumber = n
			}
		}
		return one(event(cmd, types.EventTableOpened, types.TableOpenedPayload{
			TableID:       p.TableID,
			TableName:     p.TableName,
			ZoneName:      p.ZoneName,
			GuestCount:    p.GuestCount,
			ServiceType:   p.ServiceType,
			ReceiptNumber: receiptNumber,
		})), nil

	case types.CmdAddItems:
		p, ok := cmd.Payload.(AddItemsCommand)
		if !ok {
			return nil, newCommandError(types.ErrInternalError, "bad payload for AddItems")
		}
		if len(p.Items) == 0 {
			return nil, newCommandError(types.ErrInvalidOperation, "no items to add")
		}
		items := make([]types.NewCartItem, 0, len(p.Items))
		for _, req := range p.Items {
			instanceID := uuid.NewString()
			if deps.NewInstanceID != nil {
				instanceID = deps.NewInstanceID()
			}
			items = append(items, types.NewCartItem{
				InstanceID:   instanceID,
				ProductID:    req.ProductID,
				Name:         req.Name,
				SpecName:     req.SpecName,
				Price:        req.Price,
				Quantity:     req.Quantity,
				Attributes:   req.Attributes,
				Note:         req.Note,
				AppliedRules: ApplyPriceRules(req.Price, req.Quantity, req.RuleCandidates, snapshot.ZoneName),
			})
		}
		return one(event(cmd, types.EventItemsAdded, types.ItemsAddedPayload{Items: items})), nil

	case types.CmdModifyItem:
		p, ok := cmd.Payload.(ModifyItemCommand)
		if !ok {
			return nil, newCommandError(types.ErrInternalError, "bad payload for ModifyItem")
		}
		item, _ := findItem(snapshot, p.InstanceID)
		if item == nil {
			return nil, newCommandError(types.ErrItemNotFound, "item "+p.InstanceID+" not found")
		}
		if p.Quantity != 0 && item.UnpaidQuantity > p.Quantity {
			return nil, newCommandError(types.ErrInvalidOperation, "cannot reduce quantity below unpaid quantity")
		}
		return one(event(cmd, types.EventItemModified, types.ItemModifiedPayload{
			InstanceID: p.InstanceID,
			Quantity:   p.Quantity,
			SpecName:   p.SpecName,
			Note:       p.Note,
		})), nil

	case types.CmdRemoveItem:
		p, ok := cmd.Payload.(RemoveItemCommand)
		if !ok {
			return nil, newCommandError(types.ErrInternalError, "bad payload for RemoveItem")
		}
		item, _ := findItem(snapshot, p.InstanceID)
		if item == nil {
			return nil, newCommandError(types.ErrItemNotFound, "item "+p.InstanceID+" not found")
		}
		return one(event(cmd, types.EventItemRemoved, types.ItemRemovedPayload{
			InstanceID: p.InstanceID,
			Quantity:   item.Quantity,
		})), nil

	case types.CmdRestoreItem:
		p, ok := cmd.Payload.(RestoreItemCommand)
		if !ok {
			return nil, newCommandError(types.ErrInternalError, "bad payload for RestoreItem")
		}
		found := false
		for _, item := range snapshot.VoidedItems {
			if item.InstanceID == p.InstanceID {
				found = true
				break
			}
		}
		if !found {
			return nil, newCommandError(types.ErrItemNotFound, "voided item "+p.InstanceID+" not found")
		}
		return one(event(cmd, types.EventItemRestored, types.ItemRestoredPayload{InstanceID: p.InstanceID})), nil

	case types.CmdAddPayment:
		p, ok := cmd.Payload.(AddPaymentCommand)
		if !ok {
			return nil, newCommandError(types.ErrInternalError, "bad payload for AddPayment")
		}
		if p.Amount <= 0 {
			return nil, newCommandError(types.ErrInvalidAmount, "payment amount must be positive")
		}
		if p.Method != "cash" && p.Amount > snapshot.RemainingAmount*(1+amountEpsilon) {
			return nil, newCommandError(types.ErrInvalidAmount, "payment exceeds remaining balance")
		}
		return one(event(cmd, types.EventPaymentAdded, types.PaymentAddedPayload{
			Method:    p.Method,
			Amount:    p.Amount,
			Tendered:  p.Tendered,
			Reference: p.Reference,
		})), nil

	case types.CmdCancelPayment:
		p, ok := cmd.Payload.(CancelPaymentCommand)
		if !ok {
			return nil, newCommandError(types.ErrInternalError, "bad payload for CancelPayment")
		}
		if p.PaymentIndex < 0 || p.PaymentIndex >= len(snapshot.Payments) {
			return nil, newCommandError(types.ErrPaymentNotFound, "payment index out of range")
		}
		if snapshot.Payments[p.PaymentIndex].Cancelled {
			return nil, newCommandError(types.ErrInvalidOperation, "payment already cancelled")
		}
		return one(event(cmd, types.EventPaymentCancelled, types.PaymentCancelledPayload{PaymentIndex: p.PaymentIndex})), nil

	case types.CmdCompleteOrder:
		if snapshot.RemainingAmount != 0 {
			return nil, newCommandError(types.ErrInvalidOperation, "order has a nonzero remaining balance")
		}
		return one(event(cmd, types.EventOrderCompleted, types.OrderCompletedPayload{})), nil

	case types.CmdVoidOrder:
		p, ok := cmd.Payload.(VoidOrderCommand)
		if !ok {
			return nil, newCommandError(types.ErrInternalError, "bad payload for VoidOrder")
		}
		if p.VoidType != types.VoidTypeCancelled && p.VoidType != types.VoidTypeLoss {
			return nil, newCommandError(types.ErrInvalidOperation, "invalid void type")
		}
		return one(event(cmd, types.EventOrderVoided, types.OrderVoidedPayload{
			VoidType:     p.VoidType,
			AuthorizerID: p.AuthorizerID,
			Reason:       p.Reason,
		})), nil

	case types.CmdRestoreOrder:
		if snapshot.Status != types.OrderStatusCompleted && snapshot.Status != types.OrderStatusVoided {
			return nil, newCommandError(types.ErrInvalidOperation, "order is not completed or voided")
		}
		return one(event(cmd, types.EventOrderRestored, types.OrderRestoredPayload{})), nil

	case types.CmdMergeOrders:
		p, ok := cmd.Payload.(MergeOrdersCommand)
		if !ok {
			return nil, newCommandError(types.ErrInternalError, "bad payload for MergeOrders")
		}
		return one(event(cmd, types.EventOrderMerged, types.OrderMergedPayload{AbsorbedOrderID: p.AbsorbedOrderID})), nil

	case types.CmdMoveOrder:
		return one(event(cmd, types.EventOrderMovedOut, types.OrderMovedOutPayload{SourceOrderID: snapshot.OrderID})), nil

	case types.CmdSplitOrder:
		p, ok := cmd.Payload.(SplitOrderCommand)
		if !ok {
			return nil, newCommandError(types.ErrInternalError, "bad payload for SplitOrder")
		}
		if len(p.InstanceIDs) == 0 {
			return nil, newCommandError(types.ErrInvalidOperation, "split requires at least one item")
		}
		for _, id := range p.InstanceIDs {
			if item, _ := findItem(snapshot, id); item == nil {
				return nil, newCommandError(types.ErrItemNotFound, "item "+id+" not found")
			}
		}
		return one(event(cmd, types.EventOrderSplit, types.OrderSplitPayload{
			NewOrderID:  p.NewOrderID,
			InstanceIDs: p.InstanceIDs,
		})), nil

	case types.CmdLinkMember:
		p, ok := cmd.Payload.(LinkMemberCommand)
		if !ok {
			return nil, newCommandError(types.ErrInternalError, "bad payload for LinkMember")
		}
		return one(event(cmd, types.EventMemberLinked, types.MemberLinkedPayload{
			MemberID:           p.MemberID,
			MemberName:         p.MemberName,
			MarketingGroupID:   p.MarketingGroupID,
			MarketingGroupName: p.MarketingGroupName,
		})), nil

	case types.CmdUnlinkMember:
		return one(event(cmd, types.EventMemberUnlinked, types.MemberUnlinkedPayload{})), nil

	case types.CmdAddOrderNote:
		p, ok := cmd.Payload.(AddOrderNoteCommand)
		if !ok {
			return nil, newCommandError(types.ErrInternalError, "bad payload for AddOrderNote")
		}
		return one(event(cmd, types.EventOrderNoteAdded, types.OrderNoteAddedPayload{Note: p.Note})), nil

	case types.CmdUpdateOrderInfo:
		p, ok := cmd.Payload.(UpdateOrderInfoCommand)
		if !ok {
			return nil, newCommandError(types.ErrInternalError, "bad payload for UpdateOrderInfo")
		}
		return one(event(cmd, types.EventOrderInfoUpdated, types.OrderInfoUpdatedPayload{
			TableName:  p.TableName,
			GuestCount: p.GuestCount,
		})), nil

	case types.CmdToggleRuleSkip:
		p, ok := cmd.Payload.(ToggleRuleSkipCommand)
		if !ok {
			return nil, newCommandError(types.ErrInternalError, "bad payload for ToggleRuleSkip")
		}
		item, _ := findItem(snapshot, p.InstanceID)
		if item == nil {
			return nil, newCommandError(types.ErrItemNotFound, "item "+p.InstanceID+" not found")
		}
		if !itemHasRule(item, p.RuleID) {
			return nil, newCommandError(types.ErrInvalidOperation, "rule "+p.RuleID+" not applied to item "+p.InstanceID)
		}
		return one(event(cmd, types.EventRuleSkipToggled, types.RuleSkipToggledPayload{
			InstanceID: p.InstanceID,
			RuleID:     p.RuleID,
			Skipped:    p.Skipped,
		})), nil

	case types.CmdReassignTable:
		p, ok := cmd.Payload.(ReassignTableCommand)
		if !ok {
			return nil, newCommandError(types.ErrInternalError, "bad payload for ReassignTable")
		}
		return one(event(cmd, types.EventTableReassigned, types.TableReassignedPayload{
			TableID:   p.TableID,
			TableName: p.TableName,
		})), nil

	default:
		return nil, newCommandError(types.ErrInvalidOperation, "unknown command kind "+string(cmd.Kind))
	}
}

// requireOrder enforces the state-machine gate shared by every command
// except OpenTable: the order must exist, and must not be in a
// terminal state that the command can't act on.
func requireOrder(snapshot *types.OrderSnapshot, kind types.CommandKind) error {
	if snapshot == nil {
		return newCommandError(types.ErrOrderNotFound, "order does not exist")
	}
	switch snapshot.Status {
	case types.OrderStatusCompleted:
		if kind != types.CmdRestoreOrder {
			return newCommandError(types.ErrOrderAlreadyCompleted, "order is completed")
		}
	case types.OrderStatusVoided:
		if kind != types.CmdRestoreOrder {
			return newCommandError(types.ErrOrderAlreadyVoided, "order is voided")
		}
	case types.OrderStatusMoved, types.OrderStatusMerged:
		return newCommandError(types.ErrInvalidOperation, "order is terminal")
	}
	return nil
}

func event(cmd types.OrderCommand, eventType types.EventType, payload any) types.OrderEvent {
	return types.OrderEvent{
		OrderID:      cmd.OrderID,
		EventType:    eventType,
		Payload:      payload,
		Timestamp:    cmd.Timestamp,
		OperatorID:   cmd.OperatorID,
		OperatorName: cmd.OperatorName,
		CommandID:    cmd.CommandID,
	}
}

func one(e types.OrderEvent) []types.OrderEvent {
	return []types.OrderEvent{e}
}
