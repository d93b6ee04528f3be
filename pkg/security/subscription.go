package security

import (
	"time"

	"github.com/posedge/edge/pkg/types"
)

// SubscriptionGracePeriod is how long after a subscription's
// signature_valid_until EvaluateSubscription reports SubscriptionGrace
// before it reports SubscriptionExpired. The orders manager does not
// consult the subscription state and accepts commands in every state;
// in cmd/edge the state drives only the degraded-mode metric.
const SubscriptionGracePeriod = 72 * time.Hour

// SubscriptionState is the outcome of evaluating a SubscriptionInfo
// against the current time.
type SubscriptionState int

const (
	SubscriptionOK SubscriptionState = iota
	SubscriptionGrace
	SubscriptionExpired
)

// EvaluateSubscription classifies a subscription relative to now,
// gating normal operation (OK), a grace window where the edge should
// warn but keep serving (Grace), or a hard stop (Expired).
func EvaluateSubscription(sub *types.SubscriptionInfo, now time.Time) SubscriptionState {
	if sub == nil {
		return SubscriptionExpired
	}
	switch sub.Status {
	case types.SubStatusCanceled, types.SubStatusUnpaid, types.SubStatusInactive:
		return SubscriptionExpired
	}
	if sub.ExpiresAt != nil && now.After(*sub.ExpiresAt) {
		return SubscriptionExpired
	}
	if now.Before(sub.SignatureValidUntil) {
		return SubscriptionOK
	}
	if now.Before(sub.SignatureValidUntil.Add(SubscriptionGracePeriod)) {
		return SubscriptionGrace
	}
	return SubscriptionExpired
}
