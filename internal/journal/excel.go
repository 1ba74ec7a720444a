package journal

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

const tradesSheet = "Trades"

// ExportXLSX writes the session's trades plus a summary block to an xlsx
// workbook at path. A session with no trades still produces a file with
// headers, so the output is uniform across runs.
func (j *Journal) ExportXLSX(path string) error {
	trades := j.Trades()

	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName(f.GetSheetName(0), tradesSheet)

	for col, name := range csvHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(tradesSheet, cell, name); err != nil {
			return err
		}
	}

	var realized float64
	var wins, losses int
	for i, t := range trades {
		row := i + 2
		values := []interface{}{
			t.Time.UTC().Format(time.RFC3339),
			t.Symbol,
			t.Side,
			t.Reason,
			t.Price,
			t.Quantity,
			t.Investment,
			t.PnL,
			t.Balance,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(tradesSheet, cell, v); err != nil {
				return err
			}
		}
		if t.Side == "sell" {
			realized += t.PnL
			if t.PnL >= 0 {
				wins++
			} else {
				losses++
			}
		}
	}

	summaryRow := len(trades) + 3
	summary := [][2]interface{}{
		{"trades closed", wins + losses},
		{"wins", wins},
		{"losses", losses},
		{"realized pnl", realized},
	}
	for i, pair := range summary {
		keyCell, err := excelize.CoordinatesToCellName(1, summaryRow+i)
		if err != nil {
			return err
		}
		valCell, err := excelize.CoordinatesToCellName(2, summaryRow+i)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(tradesSheet, keyCell, pair[0]); err != nil {
			return err
		}
		if err := f.SetCellValue(tradesSheet, valCell, pair[1]); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}
