package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadManifestDefaultsWhenMissing(t *testing.T) {
	m, err := loadManifest(filepath.Join(t.TempDir(), "retention.yaml"))
	require.NoError(t, err)
	require.Equal(t, defaultManifest(), m)
}

func TestLoadManifestParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "retention.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_generations_per_order: 5\nmax_age_days: 7\n"), 0600))

	m, err := loadManifest(path)
	require.NoError(t, err)
	require.Equal(t, RetentionManifest{MaxGenerationsPerOrder: 5, MaxAgeDays: 7}, m)
}

func TestPruneGenerationsKeepsOnlyNewestN(t *testing.T) {
	dir := t.TempDir()
	manifest := RetentionManifest{MaxGenerationsPerOrder: 2, MaxAgeDays: 365}
	now := time.Now()

	// Three generations, oldest to newest, for the same order.
	for i, ts := range []int64{100, 200, 300} {
		path := filepath.Join(dir, "order-1."+strconv.FormatInt(ts, 10)+".json")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))
		// Stagger mod times so oldest sorts first regardless of write order.
		modTime := now.Add(-time.Duration(3-i) * time.Hour)
		require.NoError(t, os.Chtimes(path, modTime, modTime))
	}

	require.NoError(t, pruneGenerations(dir, "order-1", manifest, now))

	remaining, err := filepath.Glob(filepath.Join(dir, "order-1.*.json"))
	require.NoError(t, err)
	require.Len(t, remaining, 2)
}

func TestPruneGenerationsDropsStaleFiles(t *testing.T) {
	dir := t.TempDir()
	manifest := RetentionManifest{MaxGenerationsPerOrder: 10, MaxAgeDays: 1}
	now := time.Now()

	stale := filepath.Join(dir, "order-2.100.json")
	require.NoError(t, os.WriteFile(stale, []byte("{}"), 0600))
	staleTime := now.Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, staleTime, staleTime))

	fresh := filepath.Join(dir, "order-2.200.json")
	require.NoError(t, os.WriteFile(fresh, []byte("{}"), 0600))

	require.NoError(t, pruneGenerations(dir, "order-2", manifest, now))

	remaining, err := filepath.Glob(filepath.Join(dir, "order-2.*.json"))
	require.NoError(t, err)
	require.Equal(t, []string{fresh}, remaining)
}
