package replay

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"perp-trader/internal/common"
)

// LoadCSV reads a price path from a CSV file with rows of
// "timestamp,price". Timestamps are RFC3339 or unix seconds; a header
// row is skipped automatically.
func LoadCSV(path string) ([]PricePoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open price file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read price file: %w", err)
	}

	points := make([]PricePoint, 0, len(rows))
	for i, row := range rows {
		ts, err := parseTimestamp(row[0])
		if err != nil {
			if i == 0 {
				continue // header
			}
			return nil, fmt.Errorf("%w: bad timestamp %q on row %d", common.ErrInvalidInput, row[0], i+1)
		}
		price, err := strconv.ParseFloat(row[1], 64)
		if err != nil || price <= 0 {
			return nil, fmt.Errorf("%w: bad price %q on row %d", common.ErrInvalidInput, row[1], i+1)
		}
		points = append(points, PricePoint{Ts: ts, Price: price})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no price points in %s", common.ErrInvalidInput, path)
	}
	return points, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
