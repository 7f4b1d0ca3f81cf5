package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"relief_portal_backend/internal/missingpersons/dashboard"
	"relief_portal_backend/internal/missingpersons/domain"
	"relief_portal_backend/internal/missingpersons/geocode"
	"relief_portal_backend/internal/missingpersons/transport"
	"relief_portal_backend/internal/regions"
	"relief_portal_backend/platform/httpkit"
	"relief_portal_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidSession   = "invalid session id"
	msgInvalidPerson    = "invalid person id"
)

// Geocoder answers single debug lookups.
type Geocoder interface {
	Resolve(ctx context.Context, query string) (domain.Coordinate, error)
}

// RegionLister exposes the state/district reference list.
type RegionLister interface {
	States() []regions.State
}

// StreamFactory builds the per-session event stream handler.
type StreamFactory interface {
	Handler(getSessionID func(*gin.Context) (uuid.UUID, bool), exists func(uuid.UUID) bool) gin.HandlerFunc
}

type Handler struct {
	svc      *dashboard.Service
	geocoder Geocoder
	regions  RegionLister
	stream   gin.HandlerFunc
	val      *validator.Validator
}

func New(svc *dashboard.Service, geocoder Geocoder, regions RegionLister, streams StreamFactory, val *validator.Validator) *Handler {
	return &Handler{
		svc:      svc,
		geocoder: geocoder,
		regions:  regions,
		stream:   streams.Handler(sessionIDParam, svc.Exists),
		val:      val,
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/dashboard/sessions")
	sessions.POST("", h.OpenSession)
	sessions.GET("/:id", h.GetSession)
	sessions.DELETE("/:id", h.CloseSession)
	sessions.GET("/:id/clusters", h.GetClusters)
	sessions.GET("/:id/persons", h.ListPersons)
	sessions.PUT("/:id/filter/state", h.SelectState)
	sessions.PUT("/:id/filter/district", h.SelectDistrict)
	sessions.PUT("/:id/search", h.Search)
	sessions.POST("/:id/selection", h.Select)
	sessions.DELETE("/:id/selection", h.ClearSelection)
	sessions.POST("/:id/markers/:key/ready", h.MarkerReady)
	sessions.POST("/:id/persons/:personId/details", h.ViewDetails)
	sessions.POST("/:id/refresh", h.Refresh)
	sessions.GET("/:id/events", h.stream)

	rg.GET("/missing-persons/:id", h.GetMissingPerson)
	rg.GET("/regions", h.ListRegions)
	rg.GET("/geocode", h.Geocode)
}

func (h *Handler) OpenSession(c *gin.Context) {
	var req transport.OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if !h.validate(c, req) {
		return
	}
	if req.ActingForAgency && req.AgencyID == nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, map[string]string{"agencyId": "required_if"})
		return
	}

	_, view, err := h.svc.Open(c.Request.Context(), req.Viewer())
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.Created(c, view)
}

func (h *Handler) GetSession(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	httpkit.OK(c, sess.View())
}

func (h *Handler) CloseSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidSession, nil)
		return
	}
	if httpkit.HandleError(c, h.svc.Close(id)) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetClusters(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	view := sess.View()
	httpkit.OK(c, transport.ClustersResponse{
		Generation:       view.Generation,
		Clusters:         view.Clusters,
		Bounds:           view.Bounds,
		DroppedPersonIDs: view.DroppedPersonIDs,
		FailedLocations:  view.FailedLocations,
	})
}

func (h *Handler) ListPersons(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var q transport.PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if !h.validate(c, q) {
		return
	}

	view := sess.View()
	if q.Page > 0 {
		var err error
		if view, err = sess.Page(q.Page); httpkit.HandleError(c, err) {
			return
		}
	}
	httpkit.OK(c, view.Persons)
}

func (h *Handler) SelectState(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req transport.SelectStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if !h.validate(c, req) {
		return
	}

	view, err := sess.SelectState(c.Request.Context(), req.State)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, view)
}

func (h *Handler) SelectDistrict(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req transport.SelectDistrictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if !h.validate(c, req) {
		return
	}

	view, err := sess.SelectDistrict(c.Request.Context(), req.District)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, view)
}

func (h *Handler) Search(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req transport.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if !h.validate(c, req) {
		return
	}

	view, err := sess.Search(req.Query)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, view)
}

func (h *Handler) Select(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req transport.SelectPersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if !h.validate(c, req) {
		return
	}

	view, err := sess.Select(req.PersonID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, view)
}

func (h *Handler) ClearSelection(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	view, err := sess.ClearSelection()
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, view)
}

func (h *Handler) MarkerReady(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	key := c.Param("key")
	if key == "" {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	view, err := sess.MarkerReady(key)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, view)
}

func (h *Handler) ViewDetails(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	personID, ok := personIDParam(c, "personId")
	if !ok {
		return
	}

	route, err := sess.ViewDetails(c.Request.Context(), personID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.DetailsResponse{Route: route})
}

func (h *Handler) Refresh(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	view, err := sess.Refresh(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, view)
}

func (h *Handler) GetMissingPerson(c *gin.Context) {
	id, ok := personIDParam(c, "id")
	if !ok {
		return
	}
	record, err := h.svc.Detail(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, record)
}

func (h *Handler) ListRegions(c *gin.Context) {
	httpkit.OK(c, transport.RegionsResponse{States: h.regions.States()})
}

func (h *Handler) Geocode(c *gin.Context) {
	var q transport.GeocodeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if !h.validate(c, q) {
		return
	}

	pos, err := h.geocoder.Resolve(c.Request.Context(), q.Query)
	switch {
	case err == nil:
		httpkit.OK(c, transport.GeocodeResponse{Query: q.Query, Position: pos})
	case errors.Is(err, geocode.ErrNoMatch):
		httpkit.Error(c, http.StatusNotFound, "location not found", nil)
	case errors.Is(err, geocode.ErrEmptyQuery):
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
	default:
		httpkit.Error(c, http.StatusBadGateway, "geocoder unavailable", nil)
	}
}

func (h *Handler) session(c *gin.Context) (*dashboard.Session, bool) {
	id, ok := sessionIDParam(c)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidSession, nil)
		return nil, false
	}
	sess, err := h.svc.Session(id)
	if httpkit.HandleError(c, err) {
		return nil, false
	}
	return sess, true
}

func (h *Handler) validate(c *gin.Context, v interface{}) bool {
	if err := h.val.Struct(v); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return false
	}
	return true
}

func sessionIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func personIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidPerson, nil)
		return 0, false
	}
	return id, true
}
