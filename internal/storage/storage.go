// Package storage provides persistent data storage for the trading bot.
// It uses BoltDB as the underlying storage engine to record exit events,
// inbound signals and opened trades.
//
// Exit-event records serve two purposes: reporting, and reconstruction of
// stop-ratchet and take-profit-tier progress after a restart.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	exitEventsBucket = "exit_events"
	signalsBucket    = "signals"
	tradesBucket     = "trades"
)

// Exit event types.
const (
	EventStopRatchet = "stop_ratchet" // trailing stop moved to a higher level
	EventBreakeven   = "breakeven"    // stop pulled to the entry price
	EventTierFilled  = "tier_filled"  // staged take-profit tier released size
	EventClosed      = "closed"       // position fully closed or gone from the exchange
)

// ExitEvent is one durable record of exit-management activity.
type ExitEvent struct {
	ID          string    `json:"id"`
	PositionKey string    `json:"positionKey"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Type        string    `json:"type"`
	Level       float64   `json:"level,omitempty"`
	StopPrice   float64   `json:"stopPrice,omitempty"`
	Tier        int       `json:"tier,omitempty"`
	ClosedSize  float64   `json:"closedSize,omitempty"`
	MarkPrice   float64   `json:"markPrice,omitempty"`
	PnLPercent  float64   `json:"pnlPercent,omitempty"`
	Ts          time.Time `json:"ts"`
}

// Progress is the exit-management state recoverable from the event log.
type Progress struct {
	StopLevel     float64
	ExecutedTiers []int
	BreakevenSet  bool
	ClosedSize    float64
}

// Store provides persistent storage using BoltDB.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the database under dataPath and ensures the
// buckets exist.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "perptrader.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{exitEventsBucket, signalsBucket, tradesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordExitEvent persists one exit event. Keys are positionKey_timestamp
// so per-position history is a prefix scan in insertion order.
func (s *Store) RecordExitEvent(ev ExitEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Ts.IsZero() {
		ev.Ts = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(exitEventsBucket))

		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal exit event: %w", err)
		}

		key := fmt.Sprintf("%s_%019d_%s", ev.PositionKey, ev.Ts.UnixNano(), ev.ID)
		return b.Put([]byte(key), data)
	})
}

// ExitEvents returns the recorded events for one position in order.
func (s *Store) ExitEvents(positionKey string) ([]ExitEvent, error) {
	var events []ExitEvent

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(exitEventsBucket)).Cursor()
		prefix := []byte(positionKey + "_")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var ev ExitEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				continue // skip malformed records
			}
			events = append(events, ev)
		}
		return nil
	})

	return events, err
}

// LoadProgress replays a position's event log into recoverable state.
// A terminal EventClosed resets the accumulator: history before it
// belongs to an earlier position on the same key.
func (s *Store) LoadProgress(positionKey string) (Progress, error) {
	events, err := s.ExitEvents(positionKey)
	if err != nil {
		return Progress{}, err
	}

	var p Progress
	for _, ev := range events {
		switch ev.Type {
		case EventStopRatchet:
			if ev.Level > p.StopLevel {
				p.StopLevel = ev.Level
			}
		case EventBreakeven:
			p.BreakevenSet = true
		case EventTierFilled:
			if !containsTier(p.ExecutedTiers, ev.Tier) {
				p.ExecutedTiers = append(p.ExecutedTiers, ev.Tier)
				p.ClosedSize += ev.ClosedSize
			}
		case EventClosed:
			p = Progress{}
		}
	}
	return p, nil
}

func containsTier(tiers []int, tier int) bool {
	for _, t := range tiers {
		if t == tier {
			return true
		}
	}
	return false
}
