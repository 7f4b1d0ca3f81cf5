package domain

import (
	"errors"
	"strings"
)

// Scope selects how much of the record set a FilterState lets through.
type Scope string

const (
	ScopeAll      Scope = "all"
	ScopeState    Scope = "state"
	ScopeDistrict Scope = "district"
)

// AllSentinel is the value the UI sends for "all states" / "all districts".
const AllSentinel = "all"

var (
	// ErrNoStateSelected is returned when a district is picked without a state.
	ErrNoStateSelected = errors.New("select a state before choosing a district")
	// ErrUnknownDistrict is returned when a district is not listed for the state.
	ErrUnknownDistrict = errors.New("district is not part of the selected state")
)

// FilterState is the effective visibility filter. Build it through
// AllScope, StateScope or DistrictScope so that district scope always
// carries its state.
type FilterState struct {
	Scope    Scope  `json:"scope"`
	State    string `json:"state,omitempty"`
	District string `json:"district,omitempty"`
}

// AllScope lets every unfound record through.
func AllScope() FilterState {
	return FilterState{Scope: ScopeAll}
}

// StateScope filters on state; a blank state degrades to AllScope.
func StateScope(state string) FilterState {
	state = strings.TrimSpace(state)
	if state == "" {
		return AllScope()
	}
	return FilterState{Scope: ScopeState, State: state}
}

// DistrictScope filters on state and district; a blank district degrades
// to StateScope.
func DistrictScope(state, district string) FilterState {
	district = strings.TrimSpace(district)
	if district == "" {
		return StateScope(state)
	}
	f := StateScope(state)
	if f.Scope == ScopeAll {
		return f
	}
	f.Scope = ScopeDistrict
	f.District = district
	return f
}

// Valid reports whether the scope/field combination is consistent.
func (f FilterState) Valid() bool {
	switch f.Scope {
	case ScopeAll:
		return f.State == "" && f.District == ""
	case ScopeState:
		return f.State != "" && f.District == ""
	case ScopeDistrict:
		return f.State != "" && f.District != ""
	default:
		return false
	}
}

// Visible reports whether r passes the filter. Found persons are never visible.
func (f FilterState) Visible(r MissingPersonRecord) bool {
	if r.IsFound {
		return false
	}
	switch f.Scope {
	case ScopeAll:
		return true
	case ScopeState:
		return SameName(r.State, f.State)
	case ScopeDistrict:
		return SameName(r.State, f.State) && SameName(r.District, f.District)
	default:
		return false
	}
}

// SelectState applies an explicit state choice. District is always reset;
// blank or "all" clears the state.
func (f FilterState) SelectState(state string) FilterState {
	if isAll(state) {
		return AllScope()
	}
	return StateScope(state)
}

// SelectDistrict applies an explicit district choice on top of the current
// state. "all" (or blank) widens district scope to state scope and keeps the
// state. ref may be nil to skip the reference check.
func (f FilterState) SelectDistrict(district string, ref DistrictIndex) (FilterState, error) {
	if f.Scope == ScopeAll {
		return f, ErrNoStateSelected
	}
	if isAll(district) {
		return StateScope(f.State), nil
	}
	if ref != nil && !ref.HasDistrict(f.State, district) {
		return f, ErrUnknownDistrict
	}
	return DistrictScope(f.State, district), nil
}

// FilterVisible returns the visible records in input order.
func FilterVisible(records []MissingPersonRecord, f FilterState) []MissingPersonRecord {
	out := make([]MissingPersonRecord, 0, len(records))
	for _, r := range records {
		if f.Visible(r) {
			out = append(out, r)
		}
	}
	return out
}

func isAll(value string) bool {
	v := strings.TrimSpace(value)
	return v == "" || strings.EqualFold(v, AllSentinel)
}
