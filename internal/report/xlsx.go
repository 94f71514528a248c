// Package report moves rate memory in and out of spreadsheets: an export of
// a tenant's aggregates and an import of historical prices to seed them.
package report

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Spok95/quote-rates/internal/domain/rates"
)

var ErrMissingColumns = errors.New("price sheet must have name, unit and rate columns")

var memoryHeader = []interface{}{
	"normalized_name",
	"unit",
	"category",
	"sample_count",
	"median_rate",
	"min_rate",
	"max_rate",
	"last_rate",
	"updated_at",
}

// WriteMemories writes one row per rate memory to a new workbook.
func WriteMemories(w io.Writer, mems []rates.Memory) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if err := f.SetSheetRow(sheet, "A1", &memoryHeader); err != nil {
		return fmt.Errorf("header: %w", err)
	}

	row := 2
	for _, m := range mems {
		excelRow := []interface{}{
			m.NormalizedName,
			m.Unit,
			m.Category,
			m.SampleCount,
			m.MedianRate,
			m.MinRate,
			m.MaxRate,
			m.LastRate,
			m.UpdatedAt.Format(time.RFC3339),
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &excelRow); err != nil {
			return fmt.Errorf("row %d: %w", row, err)
		}
		row++
	}

	_, err := f.WriteTo(w)
	return err
}

// ReadPriceHistory reads the first sheet of a workbook with a header row
// containing name, unit, rate and optionally category. Rows without a name
// or with an unreadable or non-positive rate are skipped and counted.
func ReadPriceHistory(r io.Reader) ([]rates.PricedItem, int, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, 0, err
	}
	if len(rows) == 0 {
		return nil, 0, ErrMissingColumns
	}

	col := map[string]int{}
	for i, h := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	nameIdx, okName := col["name"]
	unitIdx, okUnit := col["unit"]
	rateIdx, okRate := col["rate"]
	catIdx, okCat := col["category"]
	if !okName || !okUnit || !okRate {
		return nil, 0, ErrMissingColumns
	}

	cell := func(row []string, i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var (
		out     []rates.PricedItem
		skipped int
	)
	for _, row := range rows[1:] {
		name := cell(row, nameIdx)
		if name == "" {
			skipped++
			continue
		}
		rate, err := strconv.ParseFloat(strings.ReplaceAll(cell(row, rateIdx), ",", "."), 64)
		if err != nil || !(rate > 0) || math.IsInf(rate, 1) {
			skipped++
			continue
		}
		it := rates.PricedItem{Name: name, Unit: cell(row, unitIdx), Rate: rate}
		if okCat {
			it.Category = cell(row, catIdx)
		}
		out = append(out, it)
	}
	return out, skipped, nil
}
