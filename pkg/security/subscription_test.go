package security

import (
	"testing"
	"time"

	"github.com/posedge/edge/pkg/types"
)

func TestEvaluateSubscriptionNil(t *testing.T) {
	if got := EvaluateSubscription(nil, time.Now()); got != SubscriptionExpired {
		t.Errorf("nil subscription should be expired, got %v", got)
	}
}

func TestEvaluateSubscriptionOK(t *testing.T) {
	now := time.Now()
	sub := &types.SubscriptionInfo{
		Status:              types.SubStatusActive,
		SignatureValidUntil: now.Add(24 * time.Hour),
	}
	if got := EvaluateSubscription(sub, now); got != SubscriptionOK {
		t.Errorf("expected OK, got %v", got)
	}
}

func TestEvaluateSubscriptionGrace(t *testing.T) {
	now := time.Now()
	sub := &types.SubscriptionInfo{
		Status:              types.SubStatusActive,
		SignatureValidUntil: now.Add(-time.Hour),
	}
	if got := EvaluateSubscription(sub, now); got != SubscriptionGrace {
		t.Errorf("expected Grace just past signature_valid_until, got %v", got)
	}
}

func TestEvaluateSubscriptionExpiredPastGrace(t *testing.T) {
	now := time.Now()
	sub := &types.SubscriptionInfo{
		Status:              types.SubStatusActive,
		SignatureValidUntil: now.Add(-(SubscriptionGracePeriod + time.Hour)),
	}
	if got := EvaluateSubscription(sub, now); got != SubscriptionExpired {
		t.Errorf("expected Expired past the grace period, got %v", got)
	}
}

func TestEvaluateSubscriptionCanceledStatus(t *testing.T) {
	now := time.Now()
	sub := &types.SubscriptionInfo{
		Status:              types.SubStatusCanceled,
		SignatureValidUntil: now.Add(24 * time.Hour),
	}
	if got := EvaluateSubscription(sub, now); got != SubscriptionExpired {
		t.Errorf("canceled status should always be Expired regardless of signature validity, got %v", got)
	}
}

func TestEvaluateSubscriptionExpiresAtOverride(t *testing.T) {
	now := time.Now()
	expiresAt := now.Add(-time.Minute)
	sub := &types.SubscriptionInfo{
		Status:              types.SubStatusActive,
		ExpiresAt:           &expiresAt,
		SignatureValidUntil: now.Add(24 * time.Hour),
	}
	if got := EvaluateSubscription(sub, now); got != SubscriptionExpired {
		t.Errorf("past ExpiresAt should force Expired even with a valid signature, got %v", got)
	}
}
