// Package eventstore is the append-only, gap-free, hash-chained
// persistence layer for order events (C2). It wraps pkg/storage with
// sequence allocation, hash chaining, and startup chain verification;
// storage.BoltStore already gives atomic, fsync'd writes, so "crash
// mid-write" degrades to "last write never happened" rather than a
// torn record — this package's recovery pass exists to catch a chain
// that was corrupted by something other than bbolt itself (disk
// bitrot, a restored backup from a different node).
package eventstore

import (
	"fmt"
	"sync"

	"github.com/posedge/edge/pkg/hashchain"
	"github.com/posedge/edge/pkg/log"
	"github.com/posedge/edge/pkg/storage"
	"github.com/posedge/edge/pkg/types"
)

// Store is the event log built on top of storage.Store.
type Store struct {
	backing storage.Store

	mu  sync.Mutex
	hwm uint64

	// lastHashForOrder caches each active order's curr_hash so Append
	// doesn't need to re-read the tail event on every call.
	lastHashForOrder map[string]string
}

// Open loads the current high-water mark from backing storage. It
// does not itself verify every order's chain; call VerifyAllChains
// during startup recovery if that's required before serving traffic.
func Open(backing storage.Store) (*Store, error) {
	hwm, err := backing.HighWaterMark()
	if err != nil {
		return nil, fmt.Errorf("eventstore: load high water mark: %w", err)
	}
	return &Store{
		backing:          backing,
		hwm:              hwm,
		lastHashForOrder: make(map[string]string),
	}, nil
}

// Append assigns the next global sequence, computes curr_hash from
// the order's current tail hash, and persists atomically. prevHash is
// hashchain.ZeroDigest for an order's first event.
func (s *Store) Append(event types.OrderEvent) (types.OrderEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevHash, ok := s.lastHashForOrder[event.OrderID]
	if !ok {
		tail, err := s.tailHashForOrder(event.OrderID)
		if err != nil {
			return types.OrderEvent{}, err
		}
		prevHash = tail
	}

	event.Sequence = s.hwm + 1
	event.PrevHash = prevHash

	bytes, err := canonicalEventBytes(event)
	if err != nil {
		return types.OrderEvent{}, err
	}
	currHash, err := hashchain.ComputeCurrHash(bytes, prevHash)
	if err != nil {
		return types.OrderEvent{}, err
	}
	event.CurrHash = currHash

	if err := s.backing.AppendEvent(event); err != nil {
		return types.OrderEvent{}, fmt.Errorf("eventstore: append: %w", err)
	}

	s.hwm = event.Sequence
	s.lastHashForOrder[event.OrderID] = currHash
	return event, nil
}

func (s *Store) tailHashForOrder(orderID string) (string, error) {
	events, err := s.backing.EventsForOrder(orderID)
	if err != nil {
		return "", fmt.Errorf("eventstore: load tail for order %s: %w", orderID, err)
	}
	if len(events) == 0 {
		return hashchain.ZeroDigest, nil
	}
	return events[len(events)-1].CurrHash, nil
}

// ReadForOrder returns all events for an order in sequence order.
func (s *Store) ReadForOrder(orderID string) ([]types.OrderEvent, error) {
	return s.backing.EventsForOrder(orderID)
}

// ReadSince returns every event with sequence > globalSequence,
// across all orders, for sync and replay.
func (s *Store) ReadSince(globalSequence uint64) ([]types.OrderEvent, error) {
	return s.backing.EventsSince(globalSequence)
}

// HighWaterMark returns the last assigned global sequence.
func (s *Store) HighWaterMark() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hwm
}

// VerifyAllChains walks every active order's event chain at startup
// recovery and returns the first chain error found, identifying which
// order is affected.
func VerifyAllChains(backing storage.Store) error {
	orderIDs, err := backing.ActiveOrderIDs()
	if err != nil {
		return fmt.Errorf("eventstore: list active orders: %w", err)
	}
	for _, orderID := range orderIDs {
		events, err := backing.EventsForOrder(orderID)
		if err != nil {
			return fmt.Errorf("eventstore: load events for order %s: %w", orderID, err)
		}
		if err := VerifyOrderChain(events); err != nil {
			log.Logger.Error().Str("order_id", orderID).Err(err).Msg("order chain verification failed, freezing order")
			return fmt.Errorf("order %s: %w", orderID, err)
		}
	}
	return nil
}
