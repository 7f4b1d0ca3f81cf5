package domain

import "strings"

// DistrictIndex answers whether a district belongs to a state in the
// reference list.
type DistrictIndex interface {
	HasDistrict(state, district string) bool
}

// FilterSource names which rule of the cascade produced the base filter.
type FilterSource string

const (
	SourceAgency       FilterSource = "agency"
	SourceAgencyCached FilterSource = "agency_cached"
	SourceProfile      FilterSource = "profile"
	SourceDefault      FilterSource = "default"
)

// Viewer is the identity context a dashboard is opened with.
type Viewer struct {
	// ActingAgencyID is set when a volunteer works under an agency's
	// delegated permissions.
	ActingAgencyID  *int64
	ProfileState    string
	ProfileDistrict string
}

// ResolveBaseFilter runs the fallback cascade:
//
//  1. acting agency: live record, else the cached one
//  2. the viewer's own profile state/district
//  3. all
//
// The cached agency is only consulted when the live fetch failed; a live
// agency without a state skips straight to the profile. A district missing
// from ref is dropped to state-only scope.
func ResolveBaseFilter(viewer Viewer, live, cached *AgencyProfile, ref DistrictIndex) (FilterState, FilterSource) {
	if viewer.ActingAgencyID != nil {
		if hasState(live) {
			return baseFilter(live.State, live.District, ref), SourceAgency
		}
		if live == nil && hasState(cached) {
			return baseFilter(cached.State, cached.District, ref), SourceAgencyCached
		}
	}

	if strings.TrimSpace(viewer.ProfileState) != "" {
		return baseFilter(viewer.ProfileState, viewer.ProfileDistrict, ref), SourceProfile
	}

	return AllScope(), SourceDefault
}

func baseFilter(state, district string, ref DistrictIndex) FilterState {
	if strings.TrimSpace(district) == "" {
		return StateScope(state)
	}
	if ref != nil && !ref.HasDistrict(state, district) {
		return StateScope(state)
	}
	return DistrictScope(state, district)
}

func hasState(a *AgencyProfile) bool {
	return a != nil && strings.TrimSpace(a.State) != ""
}
