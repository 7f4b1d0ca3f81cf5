package domain

import (
	"errors"
	"testing"
)

type fakeIndex map[string][]string

func (f fakeIndex) HasDistrict(state, district string) bool {
	for s, districts := range f {
		if !SameName(s, state) {
			continue
		}
		for _, d := range districts {
			if SameName(d, district) {
				return true
			}
		}
	}
	return false
}

var goaIndex = fakeIndex{
	"Goa":    {"North Goa", "South Goa"},
	"Kerala": {"Ernakulam", "Wayanad"},
}

func int64Ptr(v int64) *int64 { return &v }

func TestCascadeVolunteerUnderAgency(t *testing.T) {
	viewer := Viewer{ActingAgencyID: int64Ptr(7), ProfileState: "Kerala", ProfileDistrict: "Wayanad"}
	agency := &AgencyProfile{ID: 7, State: "Goa", District: "North Goa"}

	f, src := ResolveBaseFilter(viewer, agency, nil, goaIndex)
	want := FilterState{Scope: ScopeDistrict, State: "Goa", District: "North Goa"}
	if f != want || src != SourceAgency {
		t.Fatalf("got %+v from %s, want %+v from agency", f, src, want)
	}

	f = mustSelectDistrict(t, f, AllSentinel)
	if f != (FilterState{Scope: ScopeState, State: "Goa"}) {
		t.Fatalf("all districts should keep the state, got %+v", f)
	}

	f = f.SelectState("Kerala")
	if f != (FilterState{Scope: ScopeState, State: "Kerala"}) {
		t.Fatalf("changing state should reset district, got %+v", f)
	}
}

func mustSelectDistrict(t *testing.T, f FilterState, district string) FilterState {
	t.Helper()
	next, err := f.SelectDistrict(district, goaIndex)
	if err != nil {
		t.Fatalf("SelectDistrict(%q): %v", district, err)
	}
	return next
}

func TestCascadeFallsBackToCachedAgency(t *testing.T) {
	viewer := Viewer{ActingAgencyID: int64Ptr(7)}
	cached := &AgencyProfile{ID: 7, State: "Goa", District: "South Goa"}

	f, src := ResolveBaseFilter(viewer, nil, cached, goaIndex)
	if src != SourceAgencyCached || f != DistrictScope("Goa", "South Goa") {
		t.Fatalf("got %+v from %s", f, src)
	}
}

func TestCascadeIgnoresCacheWhenLiveAgencyHasNoState(t *testing.T) {
	viewer := Viewer{ActingAgencyID: int64Ptr(7), ProfileState: "Kerala"}
	live := &AgencyProfile{ID: 7, State: "  "}
	cached := &AgencyProfile{ID: 7, State: "Goa", District: "South Goa"}

	f, src := ResolveBaseFilter(viewer, live, cached, goaIndex)
	if src != SourceProfile || f != StateScope("Kerala") {
		t.Fatalf("expected profile scope over stale cache, got %+v from %s", f, src)
	}
}

func TestCascadeProfileAndDefault(t *testing.T) {
	f, src := ResolveBaseFilter(Viewer{ProfileState: "Kerala", ProfileDistrict: "Ernakulam"}, nil, nil, goaIndex)
	if src != SourceProfile || f != DistrictScope("Kerala", "Ernakulam") {
		t.Fatalf("got %+v from %s", f, src)
	}

	f, src = ResolveBaseFilter(Viewer{}, nil, nil, goaIndex)
	if src != SourceDefault || f != AllScope() {
		t.Fatalf("got %+v from %s", f, src)
	}

	// Agency unavailable with nothing cached continues down the cascade.
	f, src = ResolveBaseFilter(Viewer{ActingAgencyID: int64Ptr(1), ProfileState: "Goa"}, nil, nil, goaIndex)
	if src != SourceProfile || f != StateScope("Goa") {
		t.Fatalf("got %+v from %s", f, src)
	}
}

func TestCascadeDropsUnknownDistrict(t *testing.T) {
	f, _ := ResolveBaseFilter(Viewer{ProfileState: "Goa", ProfileDistrict: "Atlantis"}, nil, nil, goaIndex)
	if f != StateScope("Goa") {
		t.Fatalf("unknown district should drop to state scope, got %+v", f)
	}
}

func TestSelectDistrictRules(t *testing.T) {
	if _, err := AllScope().SelectDistrict("North Goa", goaIndex); !errors.Is(err, ErrNoStateSelected) {
		t.Fatalf("expected ErrNoStateSelected, got %v", err)
	}
	if _, err := StateScope("Goa").SelectDistrict("Wayanad", goaIndex); !errors.Is(err, ErrUnknownDistrict) {
		t.Fatalf("expected ErrUnknownDistrict, got %v", err)
	}

	f, err := StateScope("Goa").SelectDistrict("south goa", goaIndex)
	if err != nil || f.Scope != ScopeDistrict || f.State != "Goa" {
		t.Fatalf("got %+v, %v", f, err)
	}

	// "all" on state scope is a no-op, never a state reset.
	f, err = StateScope("Goa").SelectDistrict("ALL", goaIndex)
	if err != nil || f != StateScope("Goa") {
		t.Fatalf("got %+v, %v", f, err)
	}

	if got := StateScope("Goa").SelectState(" all "); got != AllScope() {
		t.Fatalf("all states sentinel should clear state, got %+v", got)
	}
}

func TestFilterStateInvariants(t *testing.T) {
	cases := []FilterState{
		AllScope(),
		StateScope("Goa"),
		DistrictScope("Goa", "North Goa"),
		DistrictScope("", "North Goa"),
		DistrictScope("Goa", "  "),
		StateScope("   "),
	}
	for _, f := range cases {
		if !f.Valid() {
			t.Errorf("constructor produced invalid filter %+v", f)
		}
	}
	if (FilterState{Scope: ScopeDistrict, District: "North Goa"}).Valid() {
		t.Errorf("district without state must be invalid")
	}
}

func TestVisible(t *testing.T) {
	open := MissingPersonRecord{ID: 1, State: "GOA", District: "north goa"}
	found := MissingPersonRecord{ID: 2, State: "Goa", District: "North Goa", IsFound: true}
	other := MissingPersonRecord{ID: 3, State: "Goa", District: "South Goa"}

	cases := []struct {
		name   string
		filter FilterState
		record MissingPersonRecord
		want   bool
	}{
		{"all shows unfound", AllScope(), open, true},
		{"all hides found", AllScope(), found, false},
		{"state matches case-insensitively", StateScope("goa"), other, true},
		{"district matches case-insensitively", DistrictScope("Goa", "North Goa"), open, true},
		{"district excludes other district", DistrictScope("Goa", "North Goa"), other, false},
		{"state excludes other state", StateScope("Kerala"), open, false},
		{"found hidden under district", DistrictScope("Goa", "North Goa"), found, false},
	}

	for _, tc := range cases {
		if got := tc.filter.Visible(tc.record); got != tc.want {
			t.Errorf("%s: Visible = %v, want %v", tc.name, got, tc.want)
		}
	}

	visible := FilterVisible([]MissingPersonRecord{open, found, other}, StateScope("Goa"))
	if len(visible) != 2 || visible[0].ID != 1 || visible[1].ID != 3 {
		t.Fatalf("unexpected visible set %+v", visible)
	}
}
