package candlestore

import (
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"candlereplay/internal/model"
)

// datetimeLayouts are tried in order when a row's first column isn't a bare
// epoch integer. Ambiguous numeric dates are read day-first; no month-first
// layout is tried.
var datetimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02-01-2006 15:04:05",
	"02/01/2006 15:04:05",
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
}

func parseDatetime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// loadCSV reads one timeframe's CSV file and returns its candles in whatever
// order they appear on disk (the caller sorts/dedups). Unparseable rows are
// skipped and counted, never fatal — a malformed row must not abort the
// whole file per spec.
func loadCSV(path string) (candles []model.Candle, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate ragged rows, we validate column count ourselves
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	epochLayout, colIdx := detectLayout(header)

	for {
		row, rerr := r.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			skipped++
			continue
		}
		c, ok := parseRow(row, epochLayout, colIdx)
		if !ok {
			skipped++
			continue
		}
		candles = append(candles, c)
	}

	return candles, skipped, nil
}

// colIndex maps logical field names to column positions for one CSV file.
type colIndex struct {
	time, open, high, low, close, volume int
}

// detectLayout inspects the header row and decides whether this file uses
// the epoch-seconds+lowercase layout or the datetime+capitalized layout.
// Returns epochLayout=true for the former.
func detectLayout(header []string) (epochLayout bool, idx colIndex) {
	lower := make([]string, len(header))
	for i, h := range header {
		lower[i] = strings.ToLower(strings.TrimSpace(h))
	}

	find := func(name string) int {
		for i, h := range lower {
			if h == name {
				return i
			}
		}
		return -1
	}

	if t := find("time"); t >= 0 {
		return true, colIndex{
			time:   t,
			open:   find("open"),
			high:   find("high"),
			low:    find("low"),
			close:  find("close"),
			volume: find("volume"),
		}
	}

	// Datetime layout: unnamed first column, then Open/High/Low/Close/Volume.
	idx = colIndex{time: 0, open: -1, high: -1, low: -1, close: -1, volume: -1}
	for i, h := range lower {
		switch h {
		case "open":
			idx.open = i
		case "high":
			idx.high = i
		case "low":
			idx.low = i
		case "close":
			idx.close = i
		case "volume":
			idx.volume = i
		}
	}
	return false, idx
}

func parseRow(row []string, epochLayout bool, idx colIndex) (model.Candle, bool) {
	if idx.open < 0 || idx.high < 0 || idx.low < 0 || idx.close < 0 {
		return model.Candle{}, false
	}
	need := idx.time
	for _, i := range []int{idx.open, idx.high, idx.low, idx.close} {
		if i > need {
			need = i
		}
	}
	if len(row) <= need {
		return model.Candle{}, false
	}

	var ts int64
	if epochLayout {
		v, err := strconv.ParseInt(strings.TrimSpace(row[idx.time]), 10, 64)
		if err != nil {
			return model.Candle{}, false
		}
		ts = v
	} else {
		t, ok := parseDatetime(row[idx.time])
		if !ok {
			return model.Candle{}, false
		}
		ts = t.Unix()
	}

	open, err1 := strconv.ParseFloat(strings.TrimSpace(row[idx.open]), 64)
	high, err2 := strconv.ParseFloat(strings.TrimSpace(row[idx.high]), 64)
	low, err3 := strconv.ParseFloat(strings.TrimSpace(row[idx.low]), 64)
	closeP, err4 := strconv.ParseFloat(strings.TrimSpace(row[idx.close]), 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return model.Candle{}, false
	}

	var volume float64
	if idx.volume >= 0 && idx.volume < len(row) {
		if v, err := strconv.ParseFloat(strings.TrimSpace(row[idx.volume]), 64); err == nil {
			volume = v
		}
	}

	return model.Candle{
		Time:   ts,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closeP,
		Volume: volume,
	}, true
}

func logSkipped(logger *slog.Logger, tf string, skipped int) {
	if skipped > 0 && logger != nil {
		logger.Warn("skipped malformed CSV rows", "timeframe", tf, "count", skipped)
	}
}
