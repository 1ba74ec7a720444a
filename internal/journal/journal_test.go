package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleTrade(side string, pnl float64) Trade {
	return Trade{
		Time:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Symbol:     "BTCUSDT",
		Side:       side,
		Reason:     "tp",
		Price:      50000,
		Quantity:   0.0002,
		Investment: 10,
		PnL:        pnl,
		Balance:    1000,
	}
}

// TestNewWritesHeaderOnce verifies reopening an existing journal does not
// duplicate the header.
func TestNewWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")

	j, err := New(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(sampleTrade("buy", 0)))

	j2, err := New(path)
	require.NoError(t, err)
	require.NoError(t, j2.Record(sampleTrade("sell", 0.5)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "buy", rows[1][2])
	assert.Equal(t, "sell", rows[2][2])
	assert.Equal(t, "0.5", rows[2][7])
}

// TestTradesReturnsSessionCopy verifies in-memory trades are isolated from
// the caller.
func TestTradesReturnsSessionCopy(t *testing.T) {
	j, err := New(filepath.Join(t.TempDir(), "trades.csv"))
	require.NoError(t, err)
	require.NoError(t, j.Record(sampleTrade("buy", 0)))

	trades := j.Trades()
	require.Len(t, trades, 1)
	trades[0].Symbol = "mutated"

	assert.Equal(t, "BTCUSDT", j.Trades()[0].Symbol)
}

// TestExportXLSX verifies the workbook holds the trades and the summary.
func TestExportXLSX(t *testing.T) {
	dir := t.TempDir()
	j, err := New(filepath.Join(dir, "trades.csv"))
	require.NoError(t, err)

	require.NoError(t, j.Record(sampleTrade("buy", 0)))
	win := sampleTrade("sell", 1.25)
	require.NoError(t, j.Record(win))

	xlsxPath := filepath.Join(dir, "session.xlsx")
	require.NoError(t, j.ExportXLSX(xlsxPath))

	f, err := excelize.OpenFile(xlsxPath)
	require.NoError(t, err)
	defer f.Close()

	symbol, err := f.GetCellValue("Trades", "B2")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", symbol)

	rows, err := f.GetRows("Trades")
	require.NoError(t, err)
	var foundSummary bool
	for _, row := range rows {
		if len(row) >= 2 && row[0] == "realized pnl" {
			foundSummary = true
			assert.Equal(t, "1.25", row[1])
		}
	}
	assert.True(t, foundSummary)
}
