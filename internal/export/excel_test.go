package export

import (
	"testing"

	"github.com/SalvatoreDevelopment/ffxiv-broker/internal/model"
)

func strPtr(s string) *string   { return &s }
func i64Ptr(v int64) *int64     { return &v }
func f64Ptr(v float64) *float64 { return &v }

func TestBuildWorkbook(t *testing.T) {
	items := []model.ItemStats{
		{
			ItemID:        10,
			World:         "Phoenix",
			Lowest:        i64Ptr(100),
			AvgPrice7d:    f64Ptr(300),
			SalesPerDay7d: 2.5,
			Flags:         []string{model.FlagFlip},
		},
		{
			ItemID: 20,
			World:  "Phoenix",
			// No market data: nil lowest and average.
		},
	}
	advice := []model.AdviceItem{
		{
			ItemID:        10,
			Name:          strPtr("Copper Ore"),
			ROI:           1.7,
			SalesPerDay:   2.5,
			ProfitPerUnit: 180,
			ProfitPerDay:  450,
			Score:         0.8,
			Flags:         []string{model.FlagFlip},
			Risk:          "low",
		},
		{ItemID: 20, ROI: 0.3, Score: 0.4, Risk: "medium"},
	}

	f, err := BuildWorkbook(items, advice, "Phoenix")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer f.Close()

	for _, sheet := range []string{"Items", "Advisor"} {
		if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
			t.Errorf("expected sheet %s, idx=%d err=%v", sheet, idx, err)
		}
	}

	// Header row plus one row per record.
	got, err := f.GetCellValue("Items", "A3")
	if err != nil {
		t.Fatalf("cell read failed: %v", err)
	}
	if got != "20" {
		t.Errorf("expected item 20 in row 3, got %q", got)
	}

	name, err := f.GetCellValue("Advisor", "B2")
	if err != nil {
		t.Fatalf("cell read failed: %v", err)
	}
	if name != "Copper Ore" {
		t.Errorf("expected resolved name, got %q", name)
	}

	// Nameless advice rows stay blank rather than failing the export.
	blank, _ := f.GetCellValue("Advisor", "B3")
	if blank != "" {
		t.Errorf("expected blank name, got %q", blank)
	}
}

func TestBuildWorkbook_Empty(t *testing.T) {
	f, err := BuildWorkbook(nil, nil, "Phoenix")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer f.Close()

	header, err := f.GetCellValue("Items", "A1")
	if err != nil || header != "item_id" {
		t.Errorf("expected header row, got %q (err %v)", header, err)
	}
}
