// Package hashchain computes and verifies the SHA-256 prev->curr hash
// chain shared by the order event log and the audit log: a canonical
// byte encoding of a record's fields, chained to the previous record's
// hash, so any edit or reorder after the fact is detectable.
package hashchain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// ZeroDigest is the hex-encoded 32-byte zero digest used as the
// prev_hash of the first record in any chain.
var ZeroDigest = strings.Repeat("0", 64)

// Encoder accumulates the canonical byte encoding of a record's
// fields in declaration order, ready to be hashed together with the
// previous record's hash.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty canonical-byte accumulator.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 256)}
}

// String appends a UTF-8 string prefixed by its big-endian u32 length.
func (e *Encoder) String(s string) *Encoder {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	e.buf = append(e.buf, lenBuf[:]...)
	e.buf = append(e.buf, s...)
	return e
}

// Uint64 appends a little-endian u64.
func (e *Encoder) Uint64(v uint64) *Encoder {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// Int64 appends a little-endian i64 (two's complement).
func (e *Encoder) Int64(v int64) *Encoder {
	return e.Uint64(uint64(v))
}

// Int32 appends a little-endian i32.
func (e *Encoder) Int32(v int32) *Encoder {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	e.buf = append(e.buf, b[:]...)
	return e
}

// Uint8 appends a single byte, used for enum wire tags and booleans.
func (e *Encoder) Uint8(v uint8) *Encoder {
	e.buf = append(e.buf, v)
	return e
}

// Bool appends a single 0/1 byte.
func (e *Encoder) Bool(v bool) *Encoder {
	if v {
		return e.Uint8(1)
	}
	return e.Uint8(0)
}

// Float64 appends v as fixed-point micros (int64(v*1e6)), little-endian,
// so money fields hash deterministically regardless of platform.
func (e *Encoder) Float64(v float64) *Encoder {
	return e.Uint64(uint64(int64(v * 1e6))) // fixed-point micros, avoids float bit-pattern drift
}

// OptString appends a 1-byte presence tag followed by the string if
// present.
func (e *Encoder) OptString(s string, present bool) *Encoder {
	if !present {
		return e.Uint8(0)
	}
	e.Uint8(1)
	return e.String(s)
}

// Bytes appends a length-prefixed raw byte blob (used for nested
// canonical payloads, e.g. variant-specific fields already encoded).
func (e *Encoder) Bytes(b []byte) *Encoder {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	e.buf = append(e.buf, lenBuf[:]...)
	e.buf = append(e.buf, b...)
	return e
}

// Finish returns the accumulated canonical encoding.
func (e *Encoder) Finish() []byte {
	return e.buf
}

// ComputeCurrHash hashes canonical bytes of a record together with
// the previous record's hash: curr = SHA256(canonical_bytes || prev).
func ComputeCurrHash(canonicalBytes []byte, prevHashHex string) (string, error) {
	prevBytes, err := hex.DecodeString(prevHashHex)
	if err != nil {
		return "", fmt.Errorf("decode prev_hash: %w", err)
	}
	h := sha256.New()
	h.Write(canonicalBytes)
	h.Write(prevBytes)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChainErrorKind distinguishes the three ways a chain walk can fail.
type ChainErrorKind int

const (
	ErrHashMismatch ChainErrorKind = iota + 1
	ErrLinkBroken
	ErrSequenceGap
)

// ChainError reports exactly where and how chain verification failed.
type ChainError struct {
	Kind     ChainErrorKind
	Sequence uint64
	Expected uint64 // only set for ErrSequenceGap
	Got      uint64 // only set for ErrSequenceGap
}

func (e *ChainError) Error() string {
	switch e.Kind {
	case ErrHashMismatch:
		return fmt.Sprintf("hash mismatch at sequence %d", e.Sequence)
	case ErrLinkBroken:
		return fmt.Sprintf("link broken at sequence %d", e.Sequence)
	case ErrSequenceGap:
		return fmt.Sprintf("sequence gap: expected %d, got %d", e.Expected, e.Got)
	default:
		return "unknown chain error"
	}
}

// Link is the minimal shape verify_chain needs from a chained record,
// implemented by pkg/eventstore's OrderEvent wrapper. The audit chain
// does not use it; pkg/audit walks its entries itself.
type Link interface {
	LinkSequence() uint64
	LinkPrevHash() string
	LinkCurrHash() string
	// Recompute returns the hash this record should have, given its
	// own canonical bytes and the supplied prev hash.
	Recompute(prevHash string) (string, error)
}

// VerifyChain walks links in sequence order, recomputing curr_hash
// and checking prev_hash continuity. The first link's prev_hash must
// equal ZeroDigest. Sequences must strictly increase but need not be
// consecutive: one order's events carry global sequences, so other
// orders' events sit in the gaps.
func VerifyChain(links []Link) error {
	prevHash := ZeroDigest
	var prevSeq uint64
	for i, link := range links {
		seq := link.LinkSequence()
		if i == 0 {
			if link.LinkPrevHash() != ZeroDigest {
				return &ChainError{Kind: ErrLinkBroken, Sequence: seq}
			}
		} else {
			if seq <= prevSeq {
				return &ChainError{Kind: ErrSequenceGap, Expected: prevSeq + 1, Got: seq}
			}
			if link.LinkPrevHash() != prevHash {
				return &ChainError{Kind: ErrLinkBroken, Sequence: seq}
			}
		}

		recomputed, err := link.Recompute(prevHash)
		if err != nil {
			return fmt.Errorf("recompute hash at sequence %d: %w", seq, err)
		}
		if recomputed != link.LinkCurrHash() {
			return &ChainError{Kind: ErrHashMismatch, Sequence: seq}
		}

		prevHash = link.LinkCurrHash()
		prevSeq = seq
	}
	return nil
}
