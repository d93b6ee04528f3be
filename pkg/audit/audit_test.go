package audit

import (
	"testing"

	"github.com/posedge/edge/pkg/hashchain"
	"github.com/posedge/edge/pkg/storage"
	"github.com/posedge/edge/pkg/types"
)

func newTestChain(t *testing.T) (*Chain, storage.Store) {
	t.Helper()
	backing, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("open bolt store: %v", err)
	}
	t.Cleanup(func() { backing.Close() })

	chain, err := Open(backing)
	if err != nil {
		t.Fatalf("open chain: %v", err)
	}
	return chain, backing
}

func TestChainRecordChainsHashes(t *testing.T) {
	chain, _ := newTestChain(t)

	first, err := chain.Record(types.AuditActionDegradedModeEntered, "storage full", "system", 1000)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", first.Sequence)
	}
	if first.PrevHash != hashchain.ZeroDigest {
		t.Errorf("expected zero digest as prev hash for the first entry, got %q", first.PrevHash)
	}

	second, err := chain.Record(types.AuditActionDegradedModeExited, "storage recovered", "system", 2000)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if second.PrevHash != first.CurrHash {
		t.Error("expected second entry's prev hash to chain onto the first entry's curr hash")
	}
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	chain, backing := newTestChain(t)
	if _, err := chain.Record(types.AuditActionDegradedModeEntered, "storage full", "system", 1000); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := chain.Record(types.AuditActionDegradedModeExited, "storage recovered", "system", 2000); err != nil {
		t.Fatalf("record: %v", err)
	}

	result, err := VerifyChain(backing)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.ChainIntact || len(result.Breaks) != 0 {
		t.Fatalf("expected an intact chain, got %+v", result)
	}
	if result.TotalEntries != 2 {
		t.Errorf("total entries = %d, want 2", result.TotalEntries)
	}

	entries, err := backing.AuditEntries()
	if err != nil {
		t.Fatalf("load entries: %v", err)
	}
	entries[0].Detail = "tampered"
	if err := backing.UpdateAuditEntry(entries[0]); err != nil {
		t.Fatalf("rewrite tampered entry: %v", err)
	}

	result, err = VerifyChain(backing)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.ChainIntact {
		t.Fatal("expected tampering to be detected")
	}
	if len(result.Breaks) == 0 {
		t.Error("expected at least one reported break")
	}
}

func TestChainAcknowledgeResolvesEntry(t *testing.T) {
	chain, backing := newTestChain(t)
	entry, err := chain.Record(types.AuditActionDegradedModeEntered, "storage full", "system", 1000)
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := chain.Acknowledge(entry.Sequence, "operator-1", "confirmed disk replaced", 3000); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	entries, err := backing.AuditEntries()
	if err != nil {
		t.Fatalf("load entries: %v", err)
	}
	if !entries[0].Resolved {
		t.Error("expected the degraded-mode entry to be marked resolved")
	}
	if entries[0].ResolvedBy != "operator-1" {
		t.Errorf("resolved by = %q, want operator-1", entries[0].ResolvedBy)
	}

	if err := chain.Acknowledge(entry.Sequence, "operator-2", "again", 4000); err == nil {
		t.Fatal("expected an error acknowledging an already-resolved entry")
	}
}

func TestChainAcknowledgeUnknownEntry(t *testing.T) {
	chain, _ := newTestChain(t)
	if err := chain.Acknowledge(999, "operator-1", "n/a", 1000); err == nil {
		t.Fatal("expected an error acknowledging a nonexistent entry")
	}
}
