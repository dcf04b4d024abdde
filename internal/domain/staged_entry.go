package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StagedEntry is a normalized, not-yet-promoted source record for one import
// job. Unique on (ImportID, Code); read-only after staging and deleted only
// when a job is re-staged.
type StagedEntry struct {
	ID       uuid.UUID `json:"id"`
	ImportID uuid.UUID `json:"importId"`

	Code              string `json:"code"`
	Chapter           string `json:"chapter"`           // 2-digit prefix
	Heading           string `json:"heading"`           // 4-digit prefix
	Subheading        string `json:"subheading"`        // 6-digit prefix
	RateLineSuffix    string `json:"rateLineSuffix"`    // 8-digit prefix
	StatisticalSuffix string `json:"statisticalSuffix"` // 10-digit prefix

	Description string `json:"description"`
	Unit        string `json:"unit"`
	GeneralRate string `json:"generalRate"`
	SpecialRate string `json:"specialRate"`
	OtherRate   string `json:"otherRate"`
	Indent      int    `json:"indent"`

	RowHash    string          `json:"rowHash"`
	RawItem    json.RawMessage `json:"rawItem"`
	Normalized map[string]any  `json:"normalized"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// NewStagedEntry builds a staged entry for the given import, deriving the
// hierarchical prefix fields from the digit-only code and computing the row
// hash over the normalized projection.
func NewStagedEntry(importID uuid.UUID, code string, raw json.RawMessage) StagedEntry {
	entry := StagedEntry{
		ID:        uuid.New(),
		ImportID:  importID,
		Code:      code,
		RawItem:   raw,
		CreatedAt: time.Now().UTC(),
	}
	entry.DeriveHierarchy()
	return entry
}

// CodeDigits strips everything but digits from an HTS code.
func CodeDigits(code string) string {
	var b strings.Builder
	for _, r := range code {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DeriveHierarchy fills the 2/4/6/8/10-digit prefix fields from the code. A
// chapter supplied by the source record is kept as-is; validation flags it
// when it disagrees with the code.
func (e *StagedEntry) DeriveHierarchy() {
	digits := CodeDigits(e.Code)
	slice := func(n int) string {
		if len(digits) >= n {
			return digits[:n]
		}
		return ""
	}
	if e.Chapter == "" {
		e.Chapter = slice(2)
	}
	e.Heading = slice(4)
	e.Subheading = slice(6)
	e.RateLineSuffix = slice(8)
	e.StatisticalSuffix = slice(10)
}

// BusinessFields returns the comparable projection used by row hashing, the
// diff engine and promotion. Key order is fixed by FieldNames.
func (e StagedEntry) BusinessFields() map[string]any {
	return map[string]any{
		"description": e.Description,
		"unit":        e.Unit,
		"generalRate": e.GeneralRate,
		"specialRate": e.SpecialRate,
		"otherRate":   e.OtherRate,
		"indent":      e.Indent,
	}
}

// BusinessFieldNames is the canonical comparison order for business fields.
var BusinessFieldNames = []string{"description", "unit", "generalRate", "specialRate", "otherRate", "indent"}

// ComputeRowHash digests the normalized projection. Identical source rows
// always hash identically, so re-staging converges.
func (e *StagedEntry) ComputeRowHash() {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%d",
		e.Code, e.Description, e.Unit, e.GeneralRate, e.SpecialRate, e.OtherRate, e.Indent)
	e.RowHash = hex.EncodeToString(h.Sum(nil))
}

// NormalizedJSON marshals the canonical projection for persistence.
func (e StagedEntry) NormalizedJSON() (json.RawMessage, error) {
	if e.Normalized == nil {
		return json.Marshal(e.BusinessFields())
	}
	return json.Marshal(e.Normalized)
}
