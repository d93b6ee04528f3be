package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/posedge/edge/pkg/hashchain"
	"github.com/posedge/edge/pkg/types"
)

// clockTamperBackwardThreshold and clockTamperForwardThreshold bound
// how much last_verified_at is allowed to move between checks without
// an online re-verification, per the SignedBinding invariant.
const (
	clockTamperBackwardThreshold = 1 * time.Hour
	clockTamperForwardThreshold  = 30 * 24 * time.Hour
)

// ClockTamperError reports that a SignedBinding's last_verified_at
// moved in a way only a tampered clock explains.
type ClockTamperError struct {
	Direction string // "backwards" or "forwards"
	Delta     time.Duration
}

func (e *ClockTamperError) Error() string {
	return fmt.Sprintf("security: clock tamper detected (%s by %s)", e.Direction, e.Delta)
}

// canonicalBindingBytes encodes every field of a SignedBinding except
// its own signature, in declaration order, reusing the hashchain
// encoder's canonical primitives so binding signatures are just as
// reproducible as the order hash chain's.
func canonicalBindingBytes(b types.SignedBinding) []byte {
	e := hashchain.NewEncoder()
	e.String(b.TenantID).String(b.EntityID).String(string(b.EntityType)).String(b.DeviceID)
	e.Int64(b.LastVerifiedAt.UnixMilli())
	if b.Subscription != nil {
		e.Uint8(1)
		e.Bytes(canonicalSubscriptionBytes(*b.Subscription))
	} else {
		e.Uint8(0)
	}
	return e.Finish()
}

func canonicalSubscriptionBytes(s types.SubscriptionInfo) []byte {
	e := hashchain.NewEncoder()
	e.String(s.TenantID).String(string(s.Status)).String(string(s.Plan))
	e.Int64(s.StartsAt.UnixMilli())
	if s.ExpiresAt != nil {
		e.Uint8(1).Int64(s.ExpiresAt.UnixMilli())
	} else {
		e.Uint8(0)
	}
	e.Int32(int32(len(s.Features)))
	for _, f := range s.Features {
		e.String(f)
	}
	e.Int32(int32(s.MaxStores)).Int32(int32(s.MaxClients))
	e.Int64(s.SignatureValidUntil.UnixMilli())
	e.Int64(s.LastCheckedAt.UnixMilli())
	return e.Finish()
}

// signWithKey signs a digest of data with the given key, dispatching
// on key type the same way certificate issuance does.
func signWithKey(key crypto.Signer, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		return ecdsa.SignASN1(rand.Reader, k, digest[:])
	case *rsa.PrivateKey:
		return rsa.SignPKCS1v15(rand.Reader, k, 0, digest[:])
	default:
		return nil, fmt.Errorf("security: unsupported signer type %T", key)
	}
}

func verifyWithKey(pub crypto.PublicKey, data, signature []byte) error {
	digest := sha256.Sum256(data)
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(k, digest[:], signature) {
			return fmt.Errorf("security: ECDSA signature verification failed")
		}
		return nil
	case *rsa.PublicKey:
		if err := rsa.VerifyPKCS1v15(k, 0, digest[:], signature); err != nil {
			return fmt.Errorf("security: RSA signature verification failed: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("security: unsupported public key type %T", pub)
	}
}

// SignBinding signs a SignedBinding with the tenant CA's private key.
// The caller fills every field except Signature.
func SignBinding(tenantCA *CertAuthority, binding types.SignedBinding) (types.SignedBinding, error) {
	signer := tenantCA.Signer()
	if signer == nil {
		return binding, fmt.Errorf("security: tenant CA has no signing key loaded")
	}
	sig, err := signWithKey(signer, canonicalBindingBytes(binding))
	if err != nil {
		return binding, fmt.Errorf("sign binding: %w", err)
	}
	binding.Signature = sig
	return binding, nil
}

// VerifyBindingSignature checks a SignedBinding's signature against
// the tenant CA's public key (recovered from its certificate).
func VerifyBindingSignature(tenantPublicKey crypto.PublicKey, binding types.SignedBinding) error {
	sig := binding.Signature
	binding.Signature = nil
	return verifyWithKey(tenantPublicKey, canonicalBindingBytes(binding), sig)
}

// CheckClockTamper enforces the monotonicity invariant on
// last_verified_at: it must never move backwards by more than one
// hour, and must never jump forward by more than 30 days without an
// online re-verification (signaled by the caller passing
// freshFromCloud=true).
func CheckClockTamper(previous, current time.Time, freshFromCloud bool) error {
	delta := current.Sub(previous)
	if delta < 0 && -delta > clockTamperBackwardThreshold {
		return &ClockTamperError{Direction: "backwards", Delta: -delta}
	}
	if delta > clockTamperForwardThreshold && !freshFromCloud {
		return &ClockTamperError{Direction: "forwards", Delta: delta}
	}
	return nil
}

// MarshalBinding/UnmarshalBinding are the storage.Store encoding for
// a SignedBinding, kept as plain JSON since the binding is already
// integrity-protected by its own signature.
func MarshalBinding(b types.SignedBinding) ([]byte, error) {
	return json.Marshal(b)
}

func UnmarshalBinding(data []byte) (types.SignedBinding, error) {
	var b types.SignedBinding
	err := json.Unmarshal(data, &b)
	return b, err
}
