package ingest

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/atmx/pnl-engine/internal/model"
	"github.com/shopspring/decimal"
)

// lookup returns the first present, non-null alias. Keys match
// case-insensitively.
func (n *normalizer) lookup(aliases []string) (any, bool) {
	for _, a := range aliases {
		if v, ok := n.rec[a]; ok && v != nil {
			return v, true
		}
	}
	for k, v := range n.rec {
		if v == nil {
			continue
		}
		lk := strings.ToLower(k)
		for _, a := range aliases {
			if lk == a {
				return v, true
			}
		}
	}
	return nil, false
}

func (n *normalizer) str(aliases []string) (string, bool) {
	v, ok := n.lookup(aliases)
	if !ok {
		return "", false
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func (n *normalizer) number(aliases []string) (decimal.Decimal, bool) {
	v, ok := n.lookup(aliases)
	if !ok {
		return decimal.Zero, false
	}
	return toDecimal(v)
}

// toDecimal accepts json.Number, float64, ints, and strings such as
// "$1,234.50" or accounting negatives like "(12)".
func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case string:
		s := strings.TrimSpace(t)
		neg := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
		s = strings.Trim(s, "()")
		s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false
		}
		if neg {
			d = d.Neg()
		}
		return d, true
	}
	return decimal.Zero, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
}

var dayLayouts = []string{"2006-01-02", "20060102", "01/02/2006"}

// timestamp parses RFC 3339, common broker layouts in exchange time, bare
// dates (midnight exchange time) and unix seconds or milliseconds.
func (n *normalizer) timestamp() (time.Time, bool) {
	v, ok := n.lookup(timeFields)
	if !ok {
		return time.Time{}, false
	}
	if d, ok := toDecimal(v); ok {
		switch secs := d.IntPart(); {
		case secs >= 1e11:
			return time.UnixMilli(secs).UTC(), true
		case secs >= 1e9:
			return time.Unix(secs, 0).UTC(), true
		}
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range timeLayouts[1:] {
		if t, err := time.ParseInLocation(layout, s, model.Exchange); err == nil {
			return t, true
		}
	}
	if d, ok := parseDayLoose(s); ok {
		return d.Start(), true
	}
	return time.Time{}, false
}

func parseDayLoose(s string) (model.Day, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.Day(t.Format(model.DayLayout)), true
		}
	}
	return "", false
}
