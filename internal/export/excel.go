// Package export renders item stats and ranked advice as an xlsx workbook.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/model"
)

// BuildWorkbook builds a workbook with an Items sheet and an Advisor sheet.
// The caller owns the returned file and must Close it.
func BuildWorkbook(items []model.ItemStats, advice []model.AdviceItem, world string) (*excelize.File, error) {
	f := excelize.NewFile()

	const itemsSheet = "Items"
	const adviceSheet = "Advisor"
	if err := f.SetSheetName("Sheet1", itemsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(adviceSheet); err != nil {
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	// --- Items sheet ---

	itemHeaders := []interface{}{"item_id", "world", "lowest", "avg_price_7d", "sales_per_day_7d", "flags"}
	if err := writeRow(f, itemsSheet, 1, itemHeaders); err != nil {
		return nil, err
	}
	for i, it := range items {
		row := []interface{}{
			it.ItemID,
			it.World,
			deref64(it.Lowest),
			derefF(it.AvgPrice7d),
			it.SalesPerDay7d,
			strings.Join(it.Flags, ","),
		}
		if err := writeRow(f, itemsSheet, i+2, row); err != nil {
			return nil, err
		}
	}
	if err := finishSheet(f, itemsSheet, len(itemHeaders), len(items)+1, bold, world); err != nil {
		return nil, err
	}

	// --- Advisor sheet ---

	advHeaders := []interface{}{"item_id", "name", "roi", "sales_per_day", "profit_per_unit", "profit_per_day", "score", "flags", "risk"}
	if err := writeRow(f, adviceSheet, 1, advHeaders); err != nil {
		return nil, err
	}
	for i, a := range advice {
		name := ""
		if a.Name != nil {
			name = *a.Name
		}
		row := []interface{}{
			a.ItemID,
			name,
			a.ROI,
			a.SalesPerDay,
			a.ProfitPerUnit,
			a.ProfitPerDay,
			a.Score,
			strings.Join(a.Flags, ","),
			a.Risk,
		}
		if err := writeRow(f, adviceSheet, i+2, row); err != nil {
			return nil, err
		}
	}
	if err := finishSheet(f, adviceSheet, len(advHeaders), len(advice)+1, bold, world); err != nil {
		return nil, err
	}

	return f, nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

// finishSheet applies the shared presentation: bold header, auto filter,
// frozen header row, readable column widths, export footer.
func finishSheet(f *excelize.File, sheet string, cols, rows int, headerStyle int, world string) error {
	endCol, err := excelize.ColumnNumberToName(cols)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", endCol+"1", headerStyle); err != nil {
		return err
	}
	if err := f.AutoFilter(sheet, fmt.Sprintf("A1:%s%d", endCol, rows), nil); err != nil {
		return err
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", endCol, 18); err != nil {
		return err
	}
	footer := fmt.Sprintf("Exported %s - World: %s", time.Now().UTC().Format("2006-01-02 15:04 UTC"), world)
	return f.SetHeaderFooter(sheet, &excelize.HeaderFooterOptions{OddFooter: "&C" + footer})
}

func deref64(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func derefF(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
