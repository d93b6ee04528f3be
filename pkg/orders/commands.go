package orders

import "github.com/posedge/edge/pkg/types"

// Command payloads mirror the event payloads they produce, minus the
// fields the processor itself assigns (instance_id, resolved price
// rules) so those get baked into the event at command time and replay
// stays deterministic.

type OpenTableCommand struct {
	TableID     string
	TableName   string
	ZoneName    string
	GuestCount  int32
	ServiceType string
}

// ItemRequest is one line a client asks to add; ProductID/Price/etc.
// come from the client's cached catalog view, RuleCandidates from the
// same catalog snapshot so the processor doesn't need a live catalog
// dependency injected per call.
type ItemRequest struct {
	ProductID      string
	Name           string
	SpecName       string
	Price          float64
	Quantity       float64
	Attributes     []types.ItemAttribute
	Note           string
	RuleCandidates []PriceRule
}

type AddItemsCommand struct {
	Items []ItemRequest
}

type ModifyItemCommand struct {
	InstanceID string
	Quantity   float64
	SpecName   string
	Note       string
}

type RemoveItemCommand struct {
	InstanceID string
	Quantity   float64
}

type RestoreItemCommand struct {
	InstanceID string
}

type AddPaymentCommand struct {
	Method    string
	Amount    float64
	Tendered  float64
	Reference string
}

type CancelPaymentCommand struct {
	PaymentIndex int
}

type CompleteOrderCommand struct{}

type VoidOrderCommand struct {
	VoidType     types.VoidType
	AuthorizerID string
	Reason       string
}

type RestoreOrderCommand struct{}

type MergeOrdersCommand struct {
	AbsorbedOrderID string
}

type MoveOrderCommand struct {
	DestinationOrderID string
}

type SplitOrderCommand struct {
	NewOrderID  string
	InstanceIDs []string
}

type LinkMemberCommand struct {
	MemberID           string
	MemberName         string
	MarketingGroupID   string
	MarketingGroupName string
}

type UnlinkMemberCommand struct{}

type AddOrderNoteCommand struct {
	Note string
}

type UpdateOrderInfoCommand struct {
	TableName  string
	GuestCount int32
}

type ToggleRuleSkipCommand struct {
	InstanceID string
	RuleID     string
	Skipped    bool
}

type ReassignTableCommand struct {
	TableID   string
	TableName string
}
