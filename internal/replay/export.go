package replay

import (
	"github.com/kjannette/trahn-marketdata/internal/models"
	"github.com/parquet-go/parquet-go"
)

// ExportRow is one replayed bar in its canonical string form.
type ExportRow struct {
	TS     string `parquet:"ts"`
	TSMs   int64  `parquet:"ts_ms"`
	Open   string `parquet:"open"`
	High   string `parquet:"high"`
	Low    string `parquet:"low"`
	Close  string `parquet:"close"`
	Volume int64  `parquet:"volume"`
	Line   string `parquet:"canonical"`
}

func exportRows(bars []models.Bar) []ExportRow {
	rows := make([]ExportRow, len(bars))
	for i, b := range bars {
		var vol int64
		if b.Volume != nil {
			vol = *b.Volume
		}
		rows[i] = ExportRow{
			TS:     b.TS.UTC().Format(canonicalTimeLayout),
			TSMs:   b.TS.UnixMilli(),
			Open:   b.Open.StringFixed(canonicalPlaces),
			High:   b.High.StringFixed(canonicalPlaces),
			Low:    b.Low.StringFixed(canonicalPlaces),
			Close:  b.Close.StringFixed(canonicalPlaces),
			Volume: vol,
			Line:   CanonicalLine(b),
		}
	}
	return rows
}

// WriteParquet writes the replayed sequence to path.
func WriteParquet(path string, bars []models.Bar) error {
	return parquet.WriteFile(path, exportRows(bars))
}
