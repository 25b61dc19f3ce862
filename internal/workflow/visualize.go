package workflow

import (
	"strings"
	"time"
)

// chooseViz maps a result shape to a chart descriptor:
//
//	single row, single numeric column        -> metric
//	time-like column plus numeric columns    -> line over time
//	low-cardinality label plus numerics      -> bar per label
//	anything else                            -> table
func chooseViz(result *ExecutionResult) *VizDescriptor {
	numeric := numericColumns(result)

	if result.RowCount == 1 && len(result.Columns) == 1 && len(numeric) == 1 {
		return &VizDescriptor{Kind: VizMetric, YFields: numeric}
	}

	if len(numeric) > 0 {
		if timeCol := timeColumn(result); timeCol != "" {
			return &VizDescriptor{Kind: VizLine, XField: timeCol, YFields: numeric}
		}
		if labelCol := labelColumn(result, 20); labelCol != "" {
			return &VizDescriptor{Kind: VizBar, XField: labelCol, YFields: numeric}
		}
	}

	return &VizDescriptor{Kind: VizTable}
}

func numericColumns(result *ExecutionResult) []string {
	var out []string
	for i, name := range result.Columns {
		if columnMatches(result, i, isNumericValue) {
			out = append(out, name)
		}
	}
	return out
}

// timeColumn returns the first column whose values are time-like, or whose
// name suggests a time axis.
func timeColumn(result *ExecutionResult) string {
	for i, name := range result.Columns {
		if columnMatches(result, i, isTimeValue) {
			return name
		}
		lowered := strings.ToLower(name)
		if strings.Contains(lowered, "date") || strings.Contains(lowered, "time") ||
			lowered == "day" || lowered == "week" || lowered == "month" || lowered == "year" {
			return name
		}
	}
	return ""
}

// labelColumn returns the first string-valued column with at most maxDistinct
// distinct values.
func labelColumn(result *ExecutionResult, maxDistinct int) string {
	for i, name := range result.Columns {
		if !columnMatches(result, i, isStringValue) {
			continue
		}
		distinct := map[string]struct{}{}
		for _, row := range result.Rows {
			if i < len(row) {
				if v, ok := row[i].(string); ok {
					distinct[v] = struct{}{}
				}
			}
		}
		if len(distinct) > 0 && len(distinct) <= maxDistinct {
			return name
		}
	}
	return ""
}

// columnMatches reports whether every non-nil sampled value in column idx
// satisfies match, with at least one non-nil value present.
func columnMatches(result *ExecutionResult, idx int, match func(any) bool) bool {
	seen := false
	for _, row := range result.Rows {
		if idx >= len(row) || row[idx] == nil {
			continue
		}
		if !match(row[idx]) {
			return false
		}
		seen = true
	}
	return seen
}

func isNumericValue(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

func isStringValue(v any) bool {
	_, ok := v.(string)
	return ok
}

func isTimeValue(v any) bool {
	switch typed := v.(type) {
	case time.Time:
		return true
	case string:
		for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"} {
			if _, err := time.Parse(layout, typed); err == nil {
				return true
			}
		}
		return false
	default:
		return false
	}
}
