// Package missingpersons provides the missing-person map dashboard bounded
// context. This file defines the module that wires its HTTP routes.
package missingpersons

import (
	apphttp "relief_portal_backend/internal/http"
	"relief_portal_backend/internal/missingpersons/dashboard"
	"relief_portal_backend/internal/missingpersons/handler"
	"relief_portal_backend/platform/logger"
	"relief_portal_backend/platform/validator"
)

// Module is the missing-persons bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	log     *logger.Logger
}

// NewModule creates the module around an already running dashboard service.
func NewModule(svc *dashboard.Service, geocoder handler.Geocoder, regions handler.RegionLister, streams handler.StreamFactory, val *validator.Validator, log *logger.Logger) *Module {
	return &Module{
		handler: handler.New(svc, geocoder, regions, streams, val),
		log:     log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "missingpersons"
}

// RegisterRoutes mounts the dashboard, detail, region and geocode routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.V1)
}

var _ apphttp.Module = (*Module)(nil)
