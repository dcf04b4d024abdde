package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExtraTaxScope describes what an extra-tax rule applies to.
type ExtraTaxScope string

const (
	ExtraTaxScopeCode    ExtraTaxScope = "CODE"
	ExtraTaxScopeChapter ExtraTaxScope = "CHAPTER"
	ExtraTaxScopeAll     ExtraTaxScope = "ALL"
)

// ExtraTaxRule is a surcharge rule matched against a code or chapter during
// diffing. Rules are read-only input from the tariff-management domain; the
// pipeline never writes them.
type ExtraTaxRule struct {
	ID        uuid.UUID     `json:"id"`
	Name      string        `json:"name"`
	Scope     ExtraTaxScope `json:"scope"`
	Code      string        `json:"code,omitempty"`
	Chapter   string        `json:"chapter,omitempty"`
	RateText  string        `json:"rateText"`
	Active    bool          `json:"active"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Matches reports whether the rule applies to the given code.
func (r ExtraTaxRule) Matches(code string) bool {
	switch r.Scope {
	case ExtraTaxScopeAll:
		return true
	case ExtraTaxScopeChapter:
		digits := CodeDigits(code)
		return len(digits) >= 2 && r.Chapter == digits[:2]
	case ExtraTaxScopeCode:
		return CodeDigits(r.Code) == CodeDigits(code)
	default:
		return false
	}
}
