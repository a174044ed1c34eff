package xlsx

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
)

const sheetName = "Application stats"

// WriteStats renders the per scheme and status counts as a workbook with
// one row per scheme and one column per status.
func WriteStats(w io.Writer, counts []domain.StatusCount, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := []any{"Scheme"}
	for _, status := range domain.ApplicationStatuses {
		header = append(header, string(status))
	}
	header = append(header, "TOTAL")
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return fmt.Errorf("resolve header width: %w", err)
	}
	if err := f.SetCellStyle(sheetName, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	byType := make(map[domain.ApplicationType]map[domain.ApplicationStatus]int64)
	for _, c := range counts {
		if byType[c.ApplicationType] == nil {
			byType[c.ApplicationType] = make(map[domain.ApplicationStatus]int64)
		}
		byType[c.ApplicationType][c.ApplicationStatus] += c.Count
	}
	var unknown []domain.ApplicationType
	for t := range byType {
		if t.IDPrefix() == "" {
			unknown = append(unknown, t)
		}
	}
	sort.Slice(unknown, func(i, j int) bool { return unknown[i] < unknown[j] })
	types := append(append([]domain.ApplicationType(nil), domain.ApplicationTypes...), unknown...)

	for i, t := range types {
		row := []any{string(t)}
		var total int64
		for _, status := range domain.ApplicationStatuses {
			n := byType[t][status]
			total += n
			row = append(row, n)
		}
		row = append(row, total)
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("resolve row %d: %w", i+2, err)
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %s: %w", t, err)
		}
	}

	footer, err := excelize.CoordinatesToCellName(1, len(types)+3)
	if err != nil {
		return fmt.Errorf("resolve footer: %w", err)
	}
	if err := f.SetCellValue(sheetName, footer, "Generated at "+generatedAt.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("write footer: %w", err)
	}
	if err := f.SetColWidth(sheetName, "A", "A", 24); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
