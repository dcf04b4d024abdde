package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// SourceRecord is one raw row plus the partition (chapter) it arrived under.
// Both source shapes (a flat list and a chaptered map) normalize to a single
// ordered sequence of these, so downstream batch logic is shape-agnostic.
type SourceRecord struct {
	PartitionKey string
	Fields       map[string]any
	Raw          json.RawMessage
}

// Historical field-name variants accepted for each logical column.
var (
	codeAliases        = []string{"htsno", "hts_number", "htsNumber", "hts8", "hts10", "number", "code"}
	descriptionAliases = []string{"description", "desc", "brief_description", "item_description"}
	unitAliases        = []string{"units", "unit", "uoi", "uom"}
	generalAliases     = []string{"general", "general_rate", "generalRate", "mfn", "col1_general"}
	specialAliases     = []string{"special", "special_rate", "specialRate", "col1_special"}
	otherAliases       = []string{"other", "other_rate", "otherRate", "col2", "col2_rate"}
	indentAliases      = []string{"indent", "indent_level", "indentLevel"}
	chapterAliases     = []string{"chapter", "chapter_number"}
)

// ParseSourceRecords decodes the payload into a uniform record sequence.
// Supported shapes: a flat JSON array of records, or a JSON object mapping
// chapter keys to record arrays (iterated in sorted key order).
func ParseSourceRecords(r io.Reader) ([]SourceRecord, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var payload json.RawMessage
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode source payload: %w", err)
	}

	trimmed := strings.TrimSpace(string(payload))
	switch {
	case strings.HasPrefix(trimmed, "["):
		return parseFlatRecords(payload, "")
	case strings.HasPrefix(trimmed, "{"):
		return parseChapteredRecords(payload)
	default:
		return nil, fmt.Errorf("unsupported source payload shape")
	}
}

func parseFlatRecords(payload json.RawMessage, partitionKey string) ([]SourceRecord, error) {
	var rawItems []json.RawMessage
	if err := json.Unmarshal(payload, &rawItems); err != nil {
		return nil, fmt.Errorf("failed to decode record list: %w", err)
	}

	records := make([]SourceRecord, 0, len(rawItems))
	for _, raw := range rawItems {
		fields, err := decodeRecordFields(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, SourceRecord{
			PartitionKey: partitionKey,
			Fields:       fields,
			Raw:          raw,
		})
	}
	return records, nil
}

func parseChapteredRecords(payload json.RawMessage) ([]SourceRecord, error) {
	var chapters map[string]json.RawMessage
	if err := json.Unmarshal(payload, &chapters); err != nil {
		return nil, fmt.Errorf("failed to decode chaptered payload: %w", err)
	}

	keys := make([]string, 0, len(chapters))
	for key := range chapters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var records []SourceRecord
	for _, key := range keys {
		chapterRecords, err := parseFlatRecords(chapters[key], key)
		if err != nil {
			return nil, fmt.Errorf("chapter %s: %w", key, err)
		}
		records = append(records, chapterRecords...)
	}
	return records, nil
}

func decodeRecordFields(raw json.RawMessage) (map[string]any, error) {
	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	decoder.UseNumber()
	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to decode source record: %w", err)
	}
	return fields, nil
}

// firstString returns the first non-empty alias value, whitespace-normalized.
func firstString(fields map[string]any, aliases []string) string {
	for _, alias := range aliases {
		value, ok := fields[alias]
		if !ok || value == nil {
			continue
		}
		text := normalizeFieldText(value)
		if text != "" {
			return text
		}
	}
	return ""
}

func firstInt(fields map[string]any, aliases []string) int {
	for _, alias := range aliases {
		value, ok := fields[alias]
		if !ok || value == nil {
			continue
		}
		switch typed := value.(type) {
		case json.Number:
			if i, err := typed.Int64(); err == nil {
				return int(i)
			}
			if f, err := typed.Float64(); err == nil {
				return int(f)
			}
		case string:
			if i, err := strconv.Atoi(strings.TrimSpace(typed)); err == nil {
				return i
			}
		case float64:
			return int(typed)
		case int:
			return typed
		}
	}
	return 0
}

// normalizeFieldText flattens a field value to whitespace-normalized text.
// Unit columns historically arrive as arrays; they join with commas.
func normalizeFieldText(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.Join(strings.Fields(typed), " ")
	case json.Number:
		return typed.String()
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			if text := normalizeFieldText(item); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}
