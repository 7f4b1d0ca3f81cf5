// Package transport holds the request and response shapes of the
// missing-persons HTTP surface.
package transport

import (
	"relief_portal_backend/internal/missingpersons/domain"
	"relief_portal_backend/internal/regions"
)

// OpenSessionRequest opens a dashboard. State and District are the
// viewer's own profile location; AgencyID is only consulted when the viewer
// is acting for that agency.
type OpenSessionRequest struct {
	AgencyID        *int64 `json:"agencyId" validate:"omitempty,gt=0"`
	ActingForAgency bool   `json:"actingForAgency"`
	State           string `json:"state" validate:"max=100"`
	District        string `json:"district" validate:"max=100"`
}

// Viewer maps the request onto the identity context of the cascade.
func (r OpenSessionRequest) Viewer() domain.Viewer {
	v := domain.Viewer{
		ProfileState:    r.State,
		ProfileDistrict: r.District,
	}
	if r.ActingForAgency {
		v.ActingAgencyID = r.AgencyID
	}
	return v
}

type SelectStateRequest struct {
	State string `json:"state" validate:"max=100"`
}

type SelectDistrictRequest struct {
	District string `json:"district" validate:"notblank,max=100"`
}

type SearchRequest struct {
	Query string `json:"query" validate:"max=200"`
}

type SelectPersonRequest struct {
	PersonID int64 `json:"personId" validate:"required,gt=0"`
}

type PageQuery struct {
	Page int `form:"page" validate:"omitempty,min=1"`
}

type GeocodeQuery struct {
	Query string `form:"q" validate:"notblank,max=300"`
}

// ClustersResponse is the map half of a session view.
type ClustersResponse struct {
	Generation       uint64                   `json:"generation"`
	Clusters         []domain.LocationCluster `json:"clusters"`
	Bounds           *domain.Bounds           `json:"bounds,omitempty"`
	DroppedPersonIDs []int64                  `json:"droppedPersonIds"`
	FailedLocations  map[string]string        `json:"failedLocations,omitempty"`
}

type DetailsResponse struct {
	Route string `json:"route"`
}

type GeocodeResponse struct {
	Query    string            `json:"query"`
	Position domain.Coordinate `json:"position"`
}

type RegionsResponse struct {
	States []regions.State `json:"states"`
}
