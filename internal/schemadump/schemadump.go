// Package schemadump builds the per-field schema report that seeds the
// system prompt: which fields exist, how often, with what types, and their
// unique values when the field looks like an enum.
package schemadump

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"mongoagent/internal/domain"
)

// uniqueValueCap stops unique-value tracking once a field clearly is not an
// enum.
const uniqueValueCap = 10

// maxDisplayedUniques bounds how many unique values the report prints.
const maxDisplayedUniques = 15

// DefaultSampleSize is the number of documents pulled when none is given.
const DefaultSampleSize = 10000

// FieldInfo aggregates what was observed for one top-level field.
type FieldInfo struct {
	Types        map[string]bool
	UniqueValues map[string]bool
	Count        int
	NullCount    int
	Overflowed   bool // more unique values than worth tracking
}

// Report is the analysis of one collection sample.
type Report struct {
	Collection string
	TotalDocs  int
	Fields     map[string]*FieldInfo
}

// Analyze inspects a document sample field by field.
func Analyze(collection string, docs []map[string]any) *Report {
	report := &Report{
		Collection: collection,
		TotalDocs:  len(docs),
		Fields:     make(map[string]*FieldInfo),
	}
	for _, doc := range docs {
		for field, value := range doc {
			info := report.Fields[field]
			if info == nil {
				info = &FieldInfo{
					Types:        make(map[string]bool),
					UniqueValues: make(map[string]bool),
				}
				report.Fields[field] = info
			}
			info.Count++
			info.Types[typeName(value)] = true

			if value == nil {
				info.NullCount++
				continue
			}
			if info.Overflowed {
				continue
			}
			info.UniqueValues[valueString(value)] = true
			if len(info.UniqueValues) > uniqueValueCap {
				info.Overflowed = true
			}
		}
	}
	return report
}

// Collect samples documents through the tool session's find tool and analyzes
// them. The sample travels as a JSON array in the tool's text result.
func Collect(ctx context.Context, session domain.ToolSession, database, collection string, sampleSize int) (*Report, error) {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	raw, err := session.CallTool(ctx, "find", map[string]any{
		"database":   database,
		"collection": collection,
		"filter":     map[string]any{},
		"limit":      sampleSize,
	})
	if err != nil {
		return nil, fmt.Errorf("schemadump: sample %s.%s: %w", database, collection, err)
	}
	var docs []map[string]any
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		return nil, fmt.Errorf("schemadump: decode sample: %w", err)
	}
	return Analyze(collection, docs), nil
}

// Format renders the report. Fields are sorted so diffs between runs stay
// readable.
func (r *Report) Format() string {
	var b strings.Builder
	rule := strings.Repeat("=", 80)

	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Schema Analysis for Collection: %s\n", r.Collection)
	fmt.Fprintf(&b, "Documents Analyzed: %d\n", r.TotalDocs)
	b.WriteString(rule + "\n\n")

	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		info := r.Fields[name]
		fmt.Fprintf(&b, "Field: %s\n", name)
		percent := 0.0
		if r.TotalDocs > 0 {
			percent = float64(info.Count) / float64(r.TotalDocs) * 100
		}
		fmt.Fprintf(&b, "  Present in: %d/%d documents (%.1f%%)\n", info.Count, r.TotalDocs, percent)
		fmt.Fprintf(&b, "  Type(s): %s\n", strings.Join(sortedKeys(info.Types), ", "))
		if info.NullCount > 0 {
			fmt.Fprintf(&b, "  Null values: %d\n", info.NullCount)
		}

		uniques := sortedKeys(info.UniqueValues)
		if !info.Overflowed && len(uniques) > 0 && len(uniques) <= maxDisplayedUniques {
			fmt.Fprintf(&b, "  Unique values (%d):\n", len(uniques))
			for _, v := range uniques {
				if len(v) > 100 {
					v = v[:97] + "..."
				}
				fmt.Fprintf(&b, "    - %s\n", v)
			}
		} else {
			fmt.Fprintf(&b, "  Unique values: %d (> %d, treated as string)\n", len(uniques), uniqueValueCap)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// typeName classifies a decoded JSON value. Whole float64 values count as
// integers since encoding/json erases the distinction.
func typeName(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		if v == math.Trunc(v) {
			return "integer"
		}
		return "number"
	case int, int64:
		return "integer"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func valueString(value any) string {
	switch value.(type) {
	case map[string]any, []any:
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(raw)
	default:
		return fmt.Sprint(value)
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
