package domain

import (
	"time"

	"github.com/google/uuid"
)

// TariffEntry is the authoritative production record for a code, keyed by
// (Code, Version). At most one active row per code may exist at a time; the
// promotion engine preserves that invariant. Superseded versions are kept
// inactive, never deleted.
type TariffEntry struct {
	ID      uuid.UUID `json:"id"`
	Code    string    `json:"code"`
	Version string    `json:"version"`

	Chapter           string `json:"chapter"`
	Heading           string `json:"heading"`
	Subheading        string `json:"subheading"`
	RateLineSuffix    string `json:"rateLineSuffix"`
	StatisticalSuffix string `json:"statisticalSuffix"`

	Description string `json:"description"`
	Unit        string `json:"unit"`
	GeneralRate string `json:"generalRate"`
	SpecialRate string `json:"specialRate"`
	OtherRate   string `json:"otherRate"`
	Indent      int    `json:"indent"`

	RowHash   string    `json:"rowHash"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewTariffEntryFromStaged projects a staged entry into a live row for the
// given dataset version.
func NewTariffEntryFromStaged(staged StagedEntry, version string) TariffEntry {
	now := time.Now().UTC()
	return TariffEntry{
		ID:                uuid.New(),
		Code:              staged.Code,
		Version:           version,
		Chapter:           staged.Chapter,
		Heading:           staged.Heading,
		Subheading:        staged.Subheading,
		RateLineSuffix:    staged.RateLineSuffix,
		StatisticalSuffix: staged.StatisticalSuffix,
		Description:       staged.Description,
		Unit:              staged.Unit,
		GeneralRate:       staged.GeneralRate,
		SpecialRate:       staged.SpecialRate,
		OtherRate:         staged.OtherRate,
		Indent:            staged.Indent,
		RowHash:           staged.RowHash,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// BusinessFields returns the comparable projection of a live row in the same
// shape StagedEntry.BusinessFields uses.
func (e TariffEntry) BusinessFields() map[string]any {
	return map[string]any{
		"description": e.Description,
		"unit":        e.Unit,
		"generalRate": e.GeneralRate,
		"specialRate": e.SpecialRate,
		"otherRate":   e.OtherRate,
		"indent":      e.Indent,
	}
}
