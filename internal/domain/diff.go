package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DiffType classifies a code relative to the live dataset.
type DiffType string

const (
	DiffAdded     DiffType = "ADDED"
	DiffChanged   DiffType = "CHANGED"
	DiffRemoved   DiffType = "REMOVED"
	DiffUnchanged DiffType = "UNCHANGED"
)

// FieldChange records one before/after pair inside a diff summary.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// DiffSummary is the structured payload attached to a diff record. Matched
// surcharge rules are embedded so reviewers see the full cost context of a
// code without a second lookup.
type DiffSummary struct {
	Before     map[string]any         `json:"before,omitempty"`
	After      map[string]any         `json:"after,omitempty"`
	Changes    map[string]FieldChange `json:"changes,omitempty"`
	ExtraTaxes []ExtraTaxRule         `json:"extraTaxes,omitempty"`
}

// DiffRecord classifies one code for an import job.
type DiffRecord struct {
	ID             uuid.UUID   `json:"id"`
	ImportID       uuid.UUID   `json:"importId"`
	StageEntryID   *uuid.UUID  `json:"stageEntryId,omitempty"`
	CurrentEntryID *uuid.UUID  `json:"currentEntryId,omitempty"`
	Code           string      `json:"code"`
	DiffType       DiffType    `json:"diffType"`
	Summary        DiffSummary `json:"summary"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// NewDiffRecord creates a diff record for a code within an import.
func NewDiffRecord(importID uuid.UUID, code string, diffType DiffType, summary DiffSummary) DiffRecord {
	return DiffRecord{
		ID:        uuid.New(),
		ImportID:  importID,
		Code:      code,
		DiffType:  diffType,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	}
}

// SummaryJSON marshals the summary for JSONB storage.
func (d DiffRecord) SummaryJSON() (json.RawMessage, error) {
	return json.Marshal(d.Summary)
}

// DiffSummaryFromJSON unmarshals a persisted diff summary.
func DiffSummaryFromJSON(data []byte) (DiffSummary, error) {
	var summary DiffSummary
	if len(data) == 0 {
		return summary, nil
	}
	err := json.Unmarshal(data, &summary)
	return summary, err
}

// CompareBusinessFields walks the canonical field order and returns the map
// of differing fields between a live entry and a staged entry.
func CompareBusinessFields(before, after map[string]any) map[string]FieldChange {
	changes := make(map[string]FieldChange)
	for _, name := range BusinessFieldNames {
		from := before[name]
		to := after[name]
		if !fieldEqual(from, to) {
			changes[name] = FieldChange{From: from, To: to}
		}
	}
	return changes
}

func fieldEqual(a, b any) bool {
	// Numeric fields may arrive as int from domain structs and float64 from
	// decoded JSON; compare through a common representation.
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch typed := v.(type) {
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	default:
		return 0, false
	}
}
