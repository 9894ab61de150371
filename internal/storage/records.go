package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"perp-trader/internal/signal"
)

// Signal statuses recorded alongside proposals.
const (
	SignalApproved = "APPROVED"
	SignalRejected = "REJECTED"
)

// SignalRecord is a received proposal plus the gate's verdict on it.
type SignalRecord struct {
	Proposal signal.Proposal `json:"proposal"`
	Status   string          `json:"status"`
	Reason   string          `json:"reason,omitempty"`
	Ts       time.Time       `json:"ts"`
}

// TradeRecord is one opened trade.
type TradeRecord struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	EntryPrice  float64   `json:"entryPrice"`
	Size        float64   `json:"size"`
	Leverage    int       `json:"leverage,omitempty"`
	StopLoss    float64   `json:"stopLoss,omitempty"`
	TakeProfits []float64 `json:"takeProfits,omitempty"`
	SignalID    string    `json:"signalId,omitempty"`
	OpenedAt    time.Time `json:"openedAt"`
}

// StoreSignal records a proposal and how the gate ruled on it.
func (s *Store) StoreSignal(rec SignalRecord) error {
	if rec.Ts.IsZero() {
		rec.Ts = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(signalsBucket))

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal signal: %w", err)
		}

		key := fmt.Sprintf("%019d_%s", rec.Ts.UnixNano(), rec.Proposal.ID)
		return b.Put([]byte(key), data)
	})
}

// RecentSignals returns signal records received since the cutoff.
func (s *Store) RecentSignals(since time.Time) ([]SignalRecord, error) {
	var records []SignalRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(signalsBucket)).Cursor()
		start := []byte(fmt.Sprintf("%019d_", since.UnixNano()))
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			var rec SignalRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})

	return records, err
}

// StoreTrade records an opened trade. Keyed symbol_timestamp the same way
// as exit events so per-symbol history scans are cheap.
func (s *Store) StoreTrade(rec TradeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.OpenedAt.IsZero() {
		rec.OpenedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(tradesBucket))

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal trade: %w", err)
		}

		key := fmt.Sprintf("%s_%019d", rec.Symbol, rec.OpenedAt.UnixNano())
		return b.Put([]byte(key), data)
	})
}

// TradesForSymbol returns trades for one symbol within a time range,
// inclusive at both ends.
func (s *Store) TradesForSymbol(symbol string, start, end time.Time) ([]TradeRecord, error) {
	var records []TradeRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(tradesBucket)).Cursor()
		prefix := []byte(symbol + "_")
		startKey := []byte(fmt.Sprintf("%s_%019d", symbol, start.UnixNano()))
		endKey := []byte(fmt.Sprintf("%s_%019d", symbol, end.UnixNano()))

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, prefix) {
				continue
			}
			var rec TradeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})

	return records, err
}
