// Package journal records completed trades to CSV as they happen and can
// export the session to a spreadsheet afterwards.
package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Trade is one journal row. Entries and exits are both recorded; an exit
// carries the round-trip PnL.
type Trade struct {
	Time       time.Time
	Symbol     string
	Side       string // "buy" or "sell"
	Reason     string // entry signal or exit reason
	Price      float64
	Quantity   float64
	Investment float64 // quote value of the trade
	PnL        float64 // realized on exits, zero on entries
	Balance    float64 // quote balance after the trade
}

var csvHeader = []string{
	"time", "symbol", "side", "reason",
	"price", "quantity", "investment", "pnl", "balance",
}

// Journal appends trades to a CSV file and keeps them in memory for the
// session export. Safe for concurrent use.
type Journal struct {
	mu     sync.Mutex
	path   string
	trades []Trade
}

// New opens (or creates) the CSV journal at path, writing the header when
// the file is new or empty.
func New(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	info, err := os.Stat(path)
	needHeader := err != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if needHeader {
		w := csv.NewWriter(f)
		if err := w.Write(csvHeader); err != nil {
			return nil, fmt.Errorf("write journal header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}
	}

	return &Journal{path: path}, nil
}

// Record appends one trade to the CSV file and the in-memory session log.
func (j *Journal) Record(t Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.row()); err != nil {
		return fmt.Errorf("write journal row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	j.trades = append(j.trades, t)
	return nil
}

// Trades returns a copy of the trades recorded this session.
func (j *Journal) Trades() []Trade {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Trade, len(j.trades))
	copy(out, j.trades)
	return out
}

func (t Trade) row() []string {
	return []string{
		t.Time.UTC().Format(time.RFC3339),
		t.Symbol,
		t.Side,
		t.Reason,
		formatFloat(t.Price),
		formatFloat(t.Quantity),
		formatFloat(t.Investment),
		formatFloat(t.PnL),
		formatFloat(t.Balance),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
