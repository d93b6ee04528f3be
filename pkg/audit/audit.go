// Package audit is the tax-grade administrative audit chain (C11): a
// hash-chained log separate from the order event chain, covering
// degraded-mode transitions, clock tamper detection, subscription
// lapses, and their operator acknowledgements. It reuses pkg/hashchain
// for the same canonical-encoding/verify-chain discipline the order
// chain uses, the way the teacher shares one chain engine across
// concerns rather than re-deriving hashing per log.
package audit

import (
	"fmt"
	"sync"

	"github.com/posedge/edge/pkg/hashchain"
	"github.com/posedge/edge/pkg/storage"
	"github.com/posedge/edge/pkg/types"
)

// Chain is the append-only audit log built on top of storage.Store.
type Chain struct {
	backing storage.Store

	mu       sync.Mutex
	hwm      uint64
	lastHash string
}

// Open loads the chain's current high-water mark and tail hash from
// backing storage.
func Open(backing storage.Store) (*Chain, error) {
	hwm, err := backing.AuditHighWaterMark()
	if err != nil {
		return nil, fmt.Errorf("audit: load high water mark: %w", err)
	}
	c := &Chain{backing: backing, hwm: hwm}
	if hwm > 0 {
		entries, err := backing.AuditEntries()
		if err != nil {
			return nil, fmt.Errorf("audit: load entries for tail hash: %w", err)
		}
		if len(entries) > 0 {
			c.lastHash = entries[len(entries)-1].CurrHash
		}
	}
	return c, nil
}

// Record appends one audit entry, chain-hashed against the current
// tail, and persists it atomically.
func (c *Chain) Record(action types.AuditAction, detail, operatorID string, timestamp int64) (types.AuditEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordLocked(action, detail, operatorID, timestamp)
}

// recordLocked is Record's body; the caller must hold c.mu.
func (c *Chain) recordLocked(action types.AuditAction, detail, operatorID string, timestamp int64) (types.AuditEntry, error) {
	entry := types.AuditEntry{
		Sequence:   c.hwm + 1,
		Action:     action,
		Detail:     detail,
		OperatorID: operatorID,
		Timestamp:  timestamp,
		PrevHash:   c.lastHash,
	}
	if entry.PrevHash == "" {
		entry.PrevHash = hashchain.ZeroDigest
	}

	bytes, err := canonicalAuditBytes(entry)
	if err != nil {
		return types.AuditEntry{}, err
	}
	currHash, err := hashchain.ComputeCurrHash(bytes, entry.PrevHash)
	if err != nil {
		return types.AuditEntry{}, err
	}
	entry.CurrHash = currHash

	if err := c.backing.AppendAuditEntry(entry); err != nil {
		return types.AuditEntry{}, fmt.Errorf("audit: append: %w", err)
	}
	c.hwm = entry.Sequence
	c.lastHash = currHash
	return entry, nil
}

// Acknowledge resolves a startup-issue entry with a free-text reason.
// The resolution is recorded in the audit chain only; the degraded-mode
// flag in cmd/edge follows the subscription state and does not read it.
func (c *Chain) Acknowledge(sequence uint64, resolvedBy, reason string, timestamp int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.backing.AuditEntries()
	if err != nil {
		return fmt.Errorf("audit: load entries: %w", err)
	}
	for i := range entries {
		if entries[i].Sequence != sequence {
			continue
		}
		if entries[i].Resolved {
			return fmt.Errorf("audit: entry %d already resolved", sequence)
		}
		entries[i].Resolved = true
		entries[i].ResolvedBy = resolvedBy
		entries[i].ResolvedAt = timestamp
		if err := c.backing.UpdateAuditEntry(entries[i]); err != nil {
			return fmt.Errorf("audit: mark entry %d resolved: %w", sequence, err)
		}
		// The acknowledgement itself is a new chain entry so the audit
		// log records who cleared the issue and when, distinct from the
		// in-place Resolved flag on the original entry.
		_, err = c.recordLocked(types.AuditActionManualAcknowledge, reason, resolvedBy, timestamp)
		return err
	}
	return fmt.Errorf("audit: entry %d not found", sequence)
}

// VerifyResult is the verify_chain() response shape.
type VerifyResult struct {
	TotalEntries uint64
	ChainIntact  bool
	Breaks       []ChainBreak
}

// ChainBreak names one hash mismatch found while walking the chain.
type ChainBreak struct {
	EntryID  uint64
	Expected string
	Actual   string
}

// VerifyChain walks the whole audit log and reports every break found,
// rather than stopping at the first one, so an operator can see the
// full extent of corruption in one pass.
func VerifyChain(backing storage.Store) (VerifyResult, error) {
	entries, err := backing.AuditEntries()
	if err != nil {
		return VerifyResult{}, fmt.Errorf("audit: load entries: %w", err)
	}

	result := VerifyResult{TotalEntries: uint64(len(entries)), ChainIntact: true}
	prevHash := hashchain.ZeroDigest
	for _, entry := range entries {
		bytes, err := canonicalAuditBytes(entry)
		if err != nil {
			return VerifyResult{}, err
		}
		want, err := hashchain.ComputeCurrHash(bytes, prevHash)
		if err != nil {
			return VerifyResult{}, err
		}
		if want != entry.CurrHash || entry.PrevHash != prevHash {
			result.ChainIntact = false
			result.Breaks = append(result.Breaks, ChainBreak{
				EntryID:  entry.Sequence,
				Expected: want,
				Actual:   entry.CurrHash,
			})
		}
		prevHash = entry.CurrHash
	}
	return result, nil
}

func canonicalAuditBytes(entry types.AuditEntry) ([]byte, error) {
	e := hashchain.NewEncoder()
	e.Uint64(entry.Sequence)
	e.String(string(entry.Action))
	e.String(entry.Detail)
	e.String(entry.OperatorID)
	e.Int64(entry.Timestamp)
	e.String(entry.PrevHash)
	return e.Finish(), nil
}
