// Package export writes session episodes to spreadsheets.
package export

import (
	"fmt"
	"io"

	"github.com/andresmejia3/vigil/internal/store"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Episodes"

// EpisodeHeader is the header row of the episodes sheet.
var EpisodeHeader = []string{"Session", "Started", "Ended", "Duration (s)", "Peak", "Face Lost"}

var columnWidths = []float64{20, 24, 24, 14, 12, 10}

// WriteEpisodes writes an .xlsx workbook with one row per episode.
func WriteEpisodes(w io.Writer, episodes []store.Episode) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	timeStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: strPtr("yyyy-mm-dd hh:mm:ss.000")})
	if err != nil {
		return fmt.Errorf("failed to create time style: %w", err)
	}

	for col, header := range EpisodeHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheetName, name, name, columnWidths[col]); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, ep := range episodes {
		row := i + 2
		values := []interface{}{
			ep.SessionID,
			ep.StartedAt.UTC(),
			ep.EndedAt.UTC(),
			ep.Duration.Seconds(),
			ep.Peak,
			ep.Abandoned,
		}
		for j, v := range values {
			if err := setCellValue(f, j+1, row, v); err != nil {
				return fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, j+1, err)
			}
		}
		from, _ := excelize.CoordinatesToCellName(2, row)
		to, _ := excelize.CoordinatesToCellName(3, row)
		if err := f.SetCellStyle(sheetName, from, to, timeStyle); err != nil {
			return fmt.Errorf("failed to set time style: %w", err)
		}
	}

	// Freeze the header row
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func setCellValue(f *excelize.File, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheetName, cell, value)
}

func strPtr(s string) *string { return &s }
