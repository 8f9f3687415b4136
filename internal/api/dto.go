package api

import (
	"github.com/starford/cmmgraph/internal/engine"
	"github.com/starford/cmmgraph/internal/models"
)

// RectDTO is a region of interest in pixels.
type RectDTO struct {
	X      int `json:"x" example:"0"`
	Y      int `json:"y" example:"0"`
	Width  int `json:"width" example:"64"`
	Height int `json:"height" example:"64"`
}

// RunGraphRequest is the request body for running a graph. Omitted sizes
// are taken from the input node's options.
type RunGraphRequest struct {
	ROI       *RectDTO `json:"roi,omitempty"`
	Width     int      `json:"width,omitempty" example:"64"`
	Height    int      `json:"height,omitempty" example:"64"`
	Channels  int      `json:"channels,omitempty" example:"3"`
	Workspace string   `json:"workspace,omitempty" example:"4f0c2a9e-6a43-4c1f-9b2d-55d1c4a1b8e0"`
}

// NodeOptionsRequest is the request body for changing node options.
type NodeOptionsRequest struct {
	Options map[string]string `json:"options" validate:"required"`
}

// BindDeviceRequest is the request body for binding a device.
type BindDeviceRequest struct {
	Class     string `json:"class,omitempty" example:"monitor"`
	Profile   string `json:"profile" example:"sRGB.icc" validate:"required"`
	Preferred string `json:"preferred,omitempty" example:"lcm2"`
}

// GraphListResponse wraps graph listings.
type GraphListResponse struct {
	Graphs []models.GraphSummary `json:"graphs" validate:"required"`
	Total  int                   `json:"total" example:"3" validate:"required"`
}

// ModuleListResponse wraps module listings.
type ModuleListResponse struct {
	Modules []models.ModuleInfo `json:"modules" validate:"required"`
}

// CandidateListResponse wraps ranked query results.
type CandidateListResponse struct {
	Candidates []models.Candidate `json:"candidates" validate:"required"`
}

// DeviceListResponse wraps device listings.
type DeviceListResponse struct {
	Devices []models.Device `json:"devices" validate:"required"`
}

// GraphDetail is the built graph response type (aliased from the engine).
type GraphDetail = engine.GraphDetail

// NodeDetail is a node response type (aliased from the engine).
type NodeDetail = engine.NodeDetail

// RunResult is the run response type (aliased from the engine).
type RunResult = engine.RunResult
