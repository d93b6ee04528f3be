// Command edge-snapshot rebuilds the optional snapshots/ warm-start
// files from an edge's event log. It never touches the bbolt
// snapshots bucket the running daemon reads at startup; it writes a
// separate flat-file export so an operator can inspect, archive, or
// ship a point-in-time snapshot set without opening the live database
// with a second process.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/posedge/edge/pkg/orders"
	"github.com/posedge/edge/pkg/storage"
	"gopkg.in/yaml.v3"
)

var (
	dataDir       = flag.String("data-dir", "/var/lib/edge", "Edge work directory (containing edge.db)")
	retentionPath = flag.String("retention-manifest", "", "Path to the snapshot retention manifest (default: <data-dir>/snapshots/retention.yaml)")
	dryRun        = flag.Bool("dry-run", false, "List what would be written/pruned without touching disk")
)

// RetentionManifest controls how many rebuilt snapshot generations
// edge-snapshot keeps per order and for how long, the way an operator
// tunes warren-migrate's backup behavior through flags but here
// through a checked-in manifest since the policy is per-deployment,
// not per-invocation.
type RetentionManifest struct {
	MaxGenerationsPerOrder int `yaml:"max_generations_per_order"`
	MaxAgeDays             int `yaml:"max_age_days"`
}

func defaultManifest() RetentionManifest {
	return RetentionManifest{MaxGenerationsPerOrder: 3, MaxAgeDays: 30}
}

func loadManifest(path string) (RetentionManifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaultManifest(), nil
	}
	if err != nil {
		return RetentionManifest{}, err
	}
	m := defaultManifest()
	if err := yaml.Unmarshal(data, &m); err != nil {
		return RetentionManifest{}, fmt.Errorf("parse retention manifest: %w", err)
	}
	return m, nil
}

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Edge Snapshot Tool - event log -> warm-start snapshots/")
	log.Println("========================================================")

	dbPath := filepath.Join(*dataDir, "edge.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("database not found at %s", dbPath)
	}

	manifestPath := *retentionPath
	if manifestPath == "" {
		manifestPath = filepath.Join(*dataDir, "snapshots", "retention.yaml")
	}
	manifest, err := loadManifest(manifestPath)
	if err != nil {
		log.Fatalf("load retention manifest: %v", err)
	}
	log.Printf("Retention: keep %d generation(s) per order, max age %d day(s)", manifest.MaxGenerationsPerOrder, manifest.MaxAgeDays)

	backing, err := storage.NewBoltStore(*dataDir)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer backing.Close()

	snapshotDir := filepath.Join(*dataDir, "snapshots")
	if !*dryRun {
		if err := os.MkdirAll(snapshotDir, 0700); err != nil {
			log.Fatalf("create snapshots dir: %v", err)
		}
	}

	if err := rebuildAll(backing, snapshotDir, manifest, *dryRun); err != nil {
		log.Fatalf("rebuild failed: %v", err)
	}

	if *dryRun {
		log.Println("\nDry run completed. No files written.")
	} else {
		log.Println("\n✓ Snapshot rebuild completed successfully!")
	}
}

func rebuildAll(backing storage.Store, snapshotDir string, manifest RetentionManifest, dryRun bool) error {
	orderIDs, err := backing.AllOrderIDs()
	if err != nil {
		return fmt.Errorf("list orders: %w", err)
	}
	log.Printf("Found %d order(s) with persisted state", len(orderIDs))

	now := time.Now()
	var written int
	for _, orderID := range orderIDs {
		events, err := backing.EventsForOrder(orderID)
		if err != nil {
			log.Printf("⚠ skipping order %s: load events: %v", orderID, err)
			continue
		}
		if len(events) == 0 {
			continue
		}
		snapshot, err := orders.Fold(events)
		if err != nil {
			log.Printf("⚠ skipping order %s: fold replay: %v", orderID, err)
			continue
		}

		generationFile := filepath.Join(snapshotDir, fmt.Sprintf("%s.%d.json", orderID, now.Unix()))
		if dryRun {
			log.Printf("[DRY RUN] would write %s (status=%s, checksum=%s)", generationFile, snapshot.Status, snapshot.StateChecksum)
			continue
		}

		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return fmt.Errorf("encode snapshot for order %s: %w", orderID, err)
		}
		if err := os.WriteFile(generationFile, data, 0600); err != nil {
			return fmt.Errorf("write snapshot for order %s: %w", orderID, err)
		}
		written++

		if err := pruneGenerations(snapshotDir, orderID, manifest, now); err != nil {
			return fmt.Errorf("prune generations for order %s: %w", orderID, err)
		}
	}
	log.Printf("✓ Rebuilt %d/%d order snapshot(s)", written, len(orderIDs))
	return nil
}

// pruneGenerations keeps at most MaxGenerationsPerOrder files for an
// order and drops anything older than MaxAgeDays, a keep-N-and-age-out
// policy for the optional warm-start snapshot directory.
func pruneGenerations(snapshotDir, orderID string, manifest RetentionManifest, now time.Time) error {
	matches, err := filepath.Glob(filepath.Join(snapshotDir, orderID+".*.json"))
	if err != nil {
		return err
	}
	sort.Strings(matches) // unix-timestamp suffix sorts chronologically as a string

	cutoff := now.Add(-time.Duration(manifest.MaxAgeDays) * 24 * time.Hour)
	var kept []string
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return err
			}
			continue
		}
		kept = append(kept, path)
	}

	if excess := len(kept) - manifest.MaxGenerationsPerOrder; excess > 0 {
		for _, path := range kept[:excess] {
			if err := os.Remove(path); err != nil {
				return err
			}
		}
	}
	return nil
}
