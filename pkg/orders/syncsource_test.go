package orders

import (
	"testing"
)

func TestSyncSourcePendingSinceOrdersBySequenceAndCaps(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.ExecuteCommand(openTableCmd("order-1", "open-1")); err != nil {
		t.Fatalf("open order-1: %v", err)
	}
	if _, err := m.ExecuteCommand(openTableCmd("order-2", "open-2")); err != nil {
		t.Fatalf("open order-2: %v", err)
	}
	addItem(t, m, "order-1", "add-1", "burger", 10)

	src := NewSyncSource(m)

	items, err := src.PendingSince(0, 10)
	if err != nil {
		t.Fatalf("pending since 0: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected both orders pending, got %d", len(items))
	}
	if items[0].Version >= items[1].Version {
		t.Errorf("expected items ascending by version, got %d then %d", items[0].Version, items[1].Version)
	}

	highest := items[len(items)-1].Version
	capped, err := src.PendingSince(0, 1)
	if err != nil {
		t.Fatalf("pending since 0 capped: %v", err)
	}
	if len(capped) != 1 {
		t.Fatalf("expected cap to limit to 1 item, got %d", len(capped))
	}

	none, err := src.PendingSince(highest, 10)
	if err != nil {
		t.Fatalf("pending since highest: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected nothing pending past the highest version, got %d", len(none))
	}
}

func TestSyncSourceResourceName(t *testing.T) {
	src := NewSyncSource(newTestManager(t))
	if src.ResourceName() != "orders" {
		t.Errorf("expected resource name 'orders', got %q", src.ResourceName())
	}
}
