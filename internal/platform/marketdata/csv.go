package marketdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// LoadCSVDir reads every <SYMBOL>.csv in dir into a Memory provider.
// Only the given symbols are loaded when symbols is non-empty; a missing
// file for a requested symbol is an error.
func LoadCSVDir(dir string, symbols []string) (*Memory, error) {
	m := NewMemory()
	if len(symbols) == 0 {
		paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
		if err != nil {
			return nil, fmt.Errorf("marketdata: list %s: %w", dir, err)
		}
		for _, p := range paths {
			symbols = append(symbols, strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)))
		}
	}
	for _, sym := range symbols {
		s, err := LoadCSV(filepath.Join(dir, sym+".csv"))
		if err != nil {
			return nil, err
		}
		m.Set(sym, s)
	}
	return m, nil
}

// LoadCSV reads a bar file with a header row naming time (or timestamp or
// date), open, high, low, close and volume. Headers are case-insensitive
// and unknown columns are ignored. Times may be RFC3339, a date or Unix
// seconds. Duplicate timestamps are an error.
func LoadCSV(path string) (domain.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("marketdata: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("marketdata: %s: empty file", path)
		}
		return nil, fmt.Errorf("marketdata: %s: header: %w", path, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	timeCol := firstCol(col, "time", "timestamp", "date")
	closeCol := firstCol(col, "close")
	if timeCol < 0 || closeCol < 0 {
		return nil, fmt.Errorf("marketdata: %s: header needs time and close columns", path)
	}
	openCol, highCol, lowCol := firstCol(col, "open"), firstCol(col, "high"), firstCol(col, "low")
	volCol := firstCol(col, "volume", "vol")

	var out domain.Series
	line := 1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("marketdata: %s:%d: %w", path, line, err)
		}
		ts, err := parseTime(field(rec, timeCol))
		if err != nil {
			return nil, fmt.Errorf("marketdata: %s:%d: %w", path, line, err)
		}
		c, err := strconv.ParseFloat(field(rec, closeCol), 64)
		if err != nil {
			return nil, fmt.Errorf("marketdata: %s:%d: close: %w", path, line, err)
		}
		b := domain.Bar{
			Time:   ts,
			Open:   floatOr(field(rec, openCol), c),
			High:   floatOr(field(rec, highCol), c),
			Low:    floatOr(field(rec, lowCol), c),
			Close:  c,
			Volume: floatOr(field(rec, volCol), 0),
		}
		out = append(out, b)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	if !out.Sorted() {
		return nil, fmt.Errorf("marketdata: %s: duplicate timestamps", path)
	}
	return out, nil
}

func firstCol(col map[string]int, names ...string) int {
	for _, n := range names {
		if i, ok := col[n]; ok {
			return i
		}
	}
	return -1
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func floatOr(s string, def float64) float64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

// parseTime accepts RFC3339, "2006-01-02 15:04:05", "2006-01-02" or Unix
// seconds. Zone-less forms are UTC.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty time")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time %q", s)
}
