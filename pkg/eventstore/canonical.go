package eventstore

import (
	"fmt"

	"github.com/posedge/edge/pkg/hashchain"
	"github.com/posedge/edge/pkg/types"
)

// canonicalEventBytes encodes every field of event except curr_hash,
// in declaration order, per the wire encoding hashchain.Encoder
// implements: length-prefixed UTF-8 strings, little-endian integers,
// enum tags as their declared wire value, 1-byte presence tags for
// optionals, variant payloads in declaration order.
func canonicalEventBytes(event types.OrderEvent) ([]byte, error) {
	e := hashchain.NewEncoder()
	e.Uint64(event.Sequence)
	e.String(event.OrderID)
	e.Uint8(uint8(event.EventType))
	e.Int64(event.Timestamp)
	e.String(event.OperatorID)
	e.String(event.OperatorName)
	e.String(event.CommandID)
	e.String(event.PrevHash)

	if err := encodePayload(e, event.EventType, event.Payload); err != nil {
		return nil, err
	}

	return e.Finish(), nil
}

func encodePayload(e *hashchain.Encoder, t types.EventType, payload any) error {
	switch t {
	case types.EventTableOpened:
		p, ok := payload.(types.TableOpenedPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.String(p.TableID).String(p.TableName).String(p.ZoneName).
			Int32(p.GuestCount).String(p.ServiceType).String(p.ReceiptNumber)

	case types.EventItemsAdded:
		p, ok := payload.(types.ItemsAddedPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.Int32(int32(len(p.Items)))
		for _, item := range p.Items {
			e.String(item.InstanceID).String(item.ProductID).String(item.Name).String(item.SpecName).
				Float64(item.Price).Float64(item.Quantity).String(item.Note)
			e.Int32(int32(len(item.Attributes)))
			for _, attr := range item.Attributes {
				e.String(attr.AttrID).Int32(attr.OptionIdx).String(attr.Name).Float64(attr.Price)
			}
			e.Int32(int32(len(item.AppliedRules)))
			for _, r := range item.AppliedRules {
				e.String(r.RuleID).String(r.AdjustmentType).Float64(r.AdjustmentValue).Float64(r.CalculatedAmount).Bool(r.IsExclusive).Bool(r.Skipped)
			}
		}

	case types.EventItemModified:
		p, ok := payload.(types.ItemModifiedPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.String(p.InstanceID).Float64(p.Quantity).String(p.SpecName).String(p.Note)

	case types.EventItemRemoved:
		p, ok := payload.(types.ItemRemovedPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.String(p.InstanceID).Float64(p.Quantity)

	case types.EventItemRestored:
		p, ok := payload.(types.ItemRestoredPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.String(p.InstanceID)

	case types.EventPaymentAdded:
		p, ok := payload.(types.PaymentAddedPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.String(p.Method).Float64(p.Amount).Float64(p.Tendered).String(p.Reference)

	case types.EventPaymentCancelled:
		p, ok := payload.(types.PaymentCancelledPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.Int32(int32(p.PaymentIndex))

	case types.EventOrderCompleted:
		if _, ok := payload.(types.OrderCompletedPayload); !ok {
			return mismatch(t, payload)
		}

	case types.EventOrderVoided:
		p, ok := payload.(types.OrderVoidedPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.String(string(p.VoidType)).String(p.AuthorizerID).String(p.Reason)

	case types.EventOrderRestored:
		if _, ok := payload.(types.OrderRestoredPayload); !ok {
			return mismatch(t, payload)
		}

	case types.EventOrderMerged:
		p, ok := payload.(types.OrderMergedPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.String(p.AbsorbedOrderID)

	case types.EventOrderMergedOut:
		p, ok := payload.(types.OrderMergedOutPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.String(p.TargetOrderID)

	case types.EventOrderMoved:
		p, ok := payload.(types.OrderMovedPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.String(p.DestinationOrderID)

	case types.EventOrderMovedOut:
		p, ok := payload.(types.OrderMovedOutPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.String(p.SourceOrderID)

	case types.EventOrderSplit:
		p, ok := payload.(types.OrderSplitPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.String(p.NewOrderID)
		e.Int32(int32(len(p.InstanceIDs)))
		for _, id := range p.InstanceIDs {
			e.String(id)
		}

	case types.EventMemberLinked:
		p, ok := payload.(types.MemberLinkedPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.String(p.MemberID).String(p.MemberName).String(p.MarketingGroupID).String(p.MarketingGroupName)

	case types.EventMemberUnlinked:
		if _, ok := payload.(types.MemberUnlinkedPayload); !ok {
			return mismatch(t, payload)
		}

	case types.EventOrderNoteAdded:
		p, ok := payload.(types.OrderNoteAddedPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.String(p.Note)

	case types.EventOrderInfoUpdated:
		p, ok := payload.(types.OrderInfoUpdatedPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.String(p.TableName).Int32(p.GuestCount)

	case types.EventRuleSkipToggled:
		p, ok := payload.(types.RuleSkipToggledPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.String(p.InstanceID).String(p.RuleID).Bool(p.Skipped)

	case types.EventTableReassigned:
		p, ok := payload.(types.TableReassignedPayload)
		if !ok {
			return mismatch(t, payload)
		}
		e.String(p.TableID).String(p.TableName)

	default:
		return fmt.Errorf("eventstore: unknown event type %d, refusing to hash", t)
	}
	return nil
}

func mismatch(t types.EventType, payload any) error {
	return fmt.Errorf("eventstore: payload type mismatch for event %s: got %T", t, payload)
}

// eventLink adapts an OrderEvent to hashchain.Link.
type eventLink struct {
	event types.OrderEvent
}

func (l eventLink) LinkSequence() uint64  { return l.event.Sequence }
func (l eventLink) LinkPrevHash() string  { return l.event.PrevHash }
func (l eventLink) LinkCurrHash() string  { return l.event.CurrHash }

func (l eventLink) Recompute(prevHash string) (string, error) {
	bytes, err := canonicalEventBytes(l.event)
	if err != nil {
		return "", err
	}
	return hashchain.ComputeCurrHash(bytes, prevHash)
}

// VerifyOrderChain verifies the hash chain of one order's events,
// already loaded in sequence order.
func VerifyOrderChain(events []types.OrderEvent) error {
	links := make([]hashchain.Link, len(events))
	for i, ev := range events {
		links[i] = eventLink{event: ev}
	}
	return hashchain.VerifyChain(links)
}
