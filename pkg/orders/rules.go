package orders

import (
	"sort"

	"github.com/posedge/edge/pkg/types"
)

// RuleScope is the specificity level a PriceRule attaches at. Rules are
// applied in descending specificity: Product, then Tag, then Category,
// then Global.
type RuleScope int

const (
	ScopeProduct RuleScope = iota
	ScopeTag
	ScopeCategory
	ScopeGlobal
)

// AdjustmentType selects how AdjustmentValue is interpreted.
type AdjustmentType string

const (
	AdjustmentPercent AdjustmentType = "PERCENT"
	AdjustmentFixed   AdjustmentType = "FIXED"
)

// PriceRule is one catalog-defined pricing rule, resolved by the
// caller (catalog lookup is out of this package's scope) and handed to
// ApplyPriceRules for a single item.
type PriceRule struct {
	RuleID          string
	Name            string
	ReceiptName     string
	RuleType        string
	AdjustmentType  AdjustmentType
	Scope           RuleScope
	ZoneScope       string // "all", "retail", or a specific zone id
	Priority        int
	AdjustmentValue float64
	IsStackable     bool
	IsExclusive     bool
}

// sortRulesForApplication orders rules by specificity (Product > Tag >
// Category > Global), then declared priority descending, then rule id
// ascending for determinism when priorities tie.
func sortRulesForApplication(rules []PriceRule) []PriceRule {
	sorted := make([]PriceRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Scope != sorted[j].Scope {
			return sorted[i].Scope < sorted[j].Scope
		}
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].RuleID < sorted[j].RuleID
	})
	return sorted
}

// zoneMatches reports whether a rule's zone scope applies to the
// order's current zone. "all" (or an empty scope) always matches;
// "retail" matches an order with no zone or the zone named "retail";
// any other value must match the zone exactly.
func zoneMatches(ruleZoneScope, orderZone string) bool {
	if ruleZoneScope == "" || ruleZoneScope == "all" {
		return true
	}
	if ruleZoneScope == "retail" {
		return orderZone == "" || orderZone == "retail"
	}
	return ruleZoneScope == orderZone
}

func calculatedAmount(rule PriceRule, unitPrice, quantity float64) float64 {
	switch rule.AdjustmentType {
	case AdjustmentPercent:
		return round2(unitPrice * quantity * rule.AdjustmentValue / 100)
	default:
		return round2(rule.AdjustmentValue * quantity)
	}
}

// ApplyPriceRules resolves which of the candidate rules apply to one
// item, in specificity/priority/id order, honoring zone scope and
// exclusive short-circuiting. Once an exclusive rule is applied, every
// rule after it in the sorted order (same or lower specificity, by
// construction of the sort) still gets an AppliedRule entry so
// receipts can show it struck through, but with CalculatedAmount zero
// and Skipped set: skipped rules contribute zero but remain visible
// in applied_rules.
func ApplyPriceRules(unitPrice, quantity float64, rules []PriceRule, orderZone string) []types.AppliedRule {
	var zoned []PriceRule
	for _, r := range rules {
		if zoneMatches(r.ZoneScope, orderZone) {
			zoned = append(zoned, r)
		}
	}
	sorted := sortRulesForApplication(zoned)

	var applied []types.AppliedRule
	exclusiveTriggered := false
	for _, r := range sorted {
		skipped := exclusiveTriggered
		var amount float64
		if !skipped {
			amount = calculatedAmount(r, unitPrice, quantity)
		}
		applied = append(applied, types.AppliedRule{
			RuleID:           r.RuleID,
			Name:             r.Name,
			ReceiptName:      r.ReceiptName,
			RuleType:         r.RuleType,
			AdjustmentType:   string(r.AdjustmentType),
			ZoneScope:        r.ZoneScope,
			AdjustmentValue:  r.AdjustmentValue,
			CalculatedAmount: amount,
			IsStackable:      r.IsStackable,
			IsExclusive:      r.IsExclusive,
			Skipped:          skipped,
		})
		if !skipped && r.IsExclusive {
			exclusiveTriggered = true
		}
	}
	return applied
}
