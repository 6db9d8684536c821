package model

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/traffic-bridge/internal/jsonvalue"
)

// Summarize extracts the summary fields from a sensor payload. It never
// fails: missing or malformed fields are left nil and malformed movement
// entries count as zero.
//
// Expected shape:
//
//	{
//	  "analytic_id": ..., "block_name": ...,
//	  "data_start_timestamp": "<ms>", "data_end_timestamp": "<ms>",
//	  "data": {"granularity": <ms>, "movement_category_stats": [[{"number": n}, ...], ...]}
//	}
func Summarize(v jsonvalue.Value) Snapshot {
	raw, err := jsonvalue.Marshal(v)
	if err != nil {
		raw = []byte(`{}`)
	}
	s := Snapshot{RawJSON: raw}

	root, ok := v.(jsonvalue.Object)
	if !ok {
		return s
	}
	s.WindowStart = millisField(root, "data_start_timestamp")
	s.WindowEnd = millisField(root, "data_end_timestamp")
	s.AnalyticID = textField(root, "analytic_id")
	s.BlockName = textField(root, "block_name")

	inner, ok := objectField(root, "data")
	if !ok {
		return s
	}
	if g, ok := inner.Get("granularity"); ok {
		s.GranularityMs = integer(g)
	}
	s.TotalVehicles = totalVehicles(inner)
	return s
}

// totalVehicles sums "number" over data.movement_category_stats[][].
func totalVehicles(inner jsonvalue.Object) int64 {
	stats, ok := inner.Get("movement_category_stats")
	if !ok {
		return 0
	}
	groups, ok := stats.(jsonvalue.Array)
	if !ok {
		return 0
	}
	var total int64
	for _, g := range groups {
		cats, ok := g.(jsonvalue.Array)
		if !ok {
			continue
		}
		for _, c := range cats {
			cat, ok := c.(jsonvalue.Object)
			if !ok {
				continue
			}
			n, ok := cat.Get("number")
			if !ok {
				continue
			}
			num, ok := n.(jsonvalue.Number)
			if !ok {
				continue
			}
			f, err := num.Float64()
			if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
				continue
			}
			total = addSaturating(total, f)
		}
	}
	return total
}

// addSaturating adds the truncated count f to total, capping at MaxInt64.
func addSaturating(total int64, f float64) int64 {
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	n := int64(f)
	if total > math.MaxInt64-n {
		return math.MaxInt64
	}
	return total + n
}

func objectField(o jsonvalue.Object, key string) (jsonvalue.Object, bool) {
	v, ok := o.Get(key)
	if !ok {
		return nil, false
	}
	obj, ok := v.(jsonvalue.Object)
	return obj, ok
}

// millisField reads epoch milliseconds sent either as a string or a number.
func millisField(o jsonvalue.Object, key string) *time.Time {
	v, ok := o.Get(key)
	if !ok {
		return nil
	}
	var text string
	switch t := v.(type) {
	case jsonvalue.String:
		text = strings.TrimSpace(string(t))
	case jsonvalue.Number:
		text = string(t)
	default:
		return nil
	}
	if text == "" {
		return nil
	}
	ms, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil
	}
	ts := time.UnixMilli(ms).UTC()
	return &ts
}

func textField(o jsonvalue.Object, key string) *string {
	v, ok := o.Get(key)
	if !ok {
		return nil
	}
	var s string
	switch t := v.(type) {
	case jsonvalue.String:
		s = string(t)
	case jsonvalue.Number:
		s = string(t)
	default:
		return nil
	}
	return &s
}

func integer(v jsonvalue.Value) *int64 {
	num, ok := v.(jsonvalue.Number)
	if !ok {
		return nil
	}
	if n, err := strconv.ParseInt(string(num), 10, 64); err == nil {
		return &n
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return nil
	}
	n := int64(f)
	return &n
}
