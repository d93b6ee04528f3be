package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/posedge/edge/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketEventsBySeq    = []byte("events_by_seq")
	bucketEventsByOrder  = []byte("events_by_order") // order_id -> concatenated seq list
	bucketSnapshots      = []byte("snapshots")
	bucketMeta           = []byte("meta")
	bucketSyncCursors    = []byte("sync_cursors")
	bucketAudit          = []byte("audit")
	bucketCA             = []byte("ca")
	bucketEntityCred     = []byte("entity_credential")
	bucketSignedBinding  = []byte("signed_binding")

	keyEventHWM = []byte("event_high_water_mark")
	keyAuditHWM = []byte("audit_high_water_mark")
)

// BoltStore implements Store on top of a single bbolt file, the way
// the teacher keeps one file per node rather than one per concern.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the edge's database file
// under dataDir/edge.db.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "edge.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketEventsBySeq,
			bucketEventsByOrder,
			bucketSnapshots,
			bucketMeta,
			bucketSyncCursors,
			bucketAudit,
			bucketCA,
			bucketEntityCred,
			bucketSignedBinding,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

// --- event log ---

func (s *BoltStore) AppendEvent(event types.OrderEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		hwm := decodeHWM(meta.Get(keyEventHWM))
		if event.Sequence != hwm+1 {
			return fmt.Errorf("storage: append rejects sequence %d, expected %d", event.Sequence, hwm+1)
		}

		data, err := json.Marshal(event)
		if err != nil {
			return err
		}

		bySeq := tx.Bucket(bucketEventsBySeq)
		if err := bySeq.Put(seqKey(event.Sequence), data); err != nil {
			return err
		}

		byOrder := tx.Bucket(bucketEventsByOrder)
		orderIndexKey := []byte(event.OrderID)
		orderSeqs := decodeSeqList(byOrder.Get(orderIndexKey))
		orderSeqs = append(orderSeqs, event.Sequence)
		if err := byOrder.Put(orderIndexKey, encodeSeqList(orderSeqs)); err != nil {
			return err
		}

		return meta.Put(keyEventHWM, seqKey(event.Sequence))
	})
}

func (s *BoltStore) EventsForOrder(orderID string) ([]types.OrderEvent, error) {
	var events []types.OrderEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		byOrder := tx.Bucket(bucketEventsByOrder)
		seqs := decodeSeqList(byOrder.Get([]byte(orderID)))
		bySeq := tx.Bucket(bucketEventsBySeq)
		for _, seq := range seqs {
			data := bySeq.Get(seqKey(seq))
			if data == nil {
				continue
			}
			var ev types.OrderEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	return events, err
}

func (s *BoltStore) EventsSince(globalSequence uint64) ([]types.OrderEvent, error) {
	var events []types.OrderEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEventsBySeq).Cursor()
		for k, v := c.Seek(seqKey(globalSequence + 1)); k != nil; k, v = c.Next() {
			var ev types.OrderEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	return events, err
}

func (s *BoltStore) HighWaterMark() (uint64, error) {
	var hwm uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		hwm = decodeHWM(tx.Bucket(bucketMeta).Get(keyEventHWM))
		return nil
	})
	return hwm, err
}

func decodeHWM(data []byte) uint64 {
	if len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

func decodeSeqList(data []byte) []uint64 {
	n := len(data) / 8
	out := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, binary.BigEndian.Uint64(data[i*8:i*8+8]))
	}
	return out
}

func encodeSeqList(seqs []uint64) []byte {
	out := make([]byte, len(seqs)*8)
	for i, seq := range seqs {
		binary.BigEndian.PutUint64(out[i*8:i*8+8], seq)
	}
	return out
}

// --- snapshots ---

func (s *BoltStore) SaveSnapshot(snapshot types.OrderSnapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(snapshot)
		if err != nil {
			return err
		}
		b := tx.Bucket(bucketSnapshots)
		return b.Put([]byte(snapshot.OrderID), data)
	})
}

func (s *BoltStore) LoadSnapshot(orderID string) (*types.OrderSnapshot, error) {
	var snap types.OrderSnapshot
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(orderID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &ErrNotFound{Kind: "snapshot", Key: orderID}
	}
	return &snap, nil
}

func (s *BoltStore) ActiveOrderIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSnapshots).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var snap types.OrderSnapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			if snap.Status == types.OrderStatusActive {
				ids = append(ids, snap.OrderID)
			}
		}
		return nil
	})
	return ids, err
}

// AllOrderIDs returns every order with a persisted snapshot, active or
// not. Warm-start tooling that rebuilds snapshots from the event log
// needs the full set, not just ActiveOrderIDs' currently-open subset.
func (s *BoltStore) AllOrderIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSnapshots).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			ids = append(ids, string(k))
		}
		return nil
	})
	return ids, err
}

// --- sync cursors ---

func cursorKey(edgeID, resourceName string) []byte {
	return []byte(edgeID + "/" + resourceName)
}

func (s *BoltStore) GetCursor(edgeID, resourceName string) (*types.SyncCursor, error) {
	var cursor types.SyncCursor
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSyncCursors).Get(cursorKey(edgeID, resourceName))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &cursor)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &cursor, nil
}

func (s *BoltStore) SaveCursor(cursor types.SyncCursor) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(cursor)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSyncCursors).Put(cursorKey(cursor.EdgeID, cursor.ResourceName), data)
	})
}

// --- audit chain ---

func (s *BoltStore) AppendAuditEntry(entry types.AuditEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		hwm := decodeHWM(meta.Get(keyAuditHWM))
		if entry.Sequence != hwm+1 {
			return fmt.Errorf("storage: audit append rejects sequence %d, expected %d", entry.Sequence, hwm+1)
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketAudit).Put(seqKey(entry.Sequence), data); err != nil {
			return err
		}
		return meta.Put(keyAuditHWM, seqKey(entry.Sequence))
	})
}

func (s *BoltStore) UpdateAuditEntry(entry types.AuditEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketAudit)
		if bucket.Get(seqKey(entry.Sequence)) == nil {
			return fmt.Errorf("storage: audit entry %d does not exist, cannot update", entry.Sequence)
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return bucket.Put(seqKey(entry.Sequence), data)
	})
}

func (s *BoltStore) AuditEntries() ([]types.AuditEntry, error) {
	var entries []types.AuditEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e types.AuditEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

func (s *BoltStore) AuditHighWaterMark() (uint64, error) {
	var hwm uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		hwm = decodeHWM(tx.Bucket(bucketMeta).Get(keyAuditHWM))
		return nil
	})
	return hwm, err
}

// --- PKI material ---

func (s *BoltStore) SaveCA(level string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put([]byte(level), data)
	})
}

func (s *BoltStore) GetCA(level string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCA).Get([]byte(level))
		if data == nil {
			return &ErrNotFound{Kind: "ca", Key: level}
		}
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

func (s *BoltStore) SaveEntityCredential(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntityCred).Put([]byte("current"), data)
	})
}

func (s *BoltStore) GetEntityCredential() ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEntityCred).Get([]byte("current"))
		if data == nil {
			return &ErrNotFound{Kind: "entity_credential", Key: "current"}
		}
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

func (s *BoltStore) SaveSignedBinding(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSignedBinding).Put([]byte("current"), data)
	})
}

func (s *BoltStore) GetSignedBinding() ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSignedBinding).Get([]byte("current"))
		if data == nil {
			return &ErrNotFound{Kind: "signed_binding", Key: "current"}
		}
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}
