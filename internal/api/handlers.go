package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/cmmgraph/internal/engine"
	"github.com/starford/cmmgraph/internal/filter"
	"github.com/starford/cmmgraph/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	eng *engine.Engine
}

// NewHandler creates a new Handler.
func NewHandler(eng *engine.Engine) *Handler {
	return &Handler{eng: eng}
}

// urlParam extracts a path parameter. Supports encoded slashes from OpenAPI
// clients (e.g. print%2Fproof).
func urlParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListModules handles GET /api/modules.
//
//	@Summary		List registered modules and their records
//	@Tags			modules
//	@Produce		json
//	@Success		200	{object}	ModuleListResponse
//	@Security		BearerAuth
//	@Router			/modules [get]
func (h *Handler) ListModules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ModuleListResponse{Modules: h.eng.ListModules()})
}

// QueryModules handles GET /api/modules/query.
//
//	@Summary		Rank module records of a kind against a registration pattern
//	@Tags			modules
//	@Produce		json
//	@Param			kind		query		string	true	"Record kind"	Enums(filter, executor, device-config, policy)
//	@Param			pattern		query		string	false	"Registration pattern"
//	@Param			preferred	query		string	false	"Preferred module signature"
//	@Success		200			{object}	CandidateListResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/modules/query [get]
func (h *Handler) QueryModules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("kind") == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'kind' is required"))
		return
	}
	cands, err := h.eng.QueryModules(q.Get("kind"), q.Get("pattern"), q.Get("preferred"))
	if err != nil {
		writeError(w, "query modules", err)
		return
	}
	writeJSON(w, http.StatusOK, CandidateListResponse{Candidates: cands})
}

// ListGraphs handles GET /api/graphs.
//
//	@Summary		List catalogued graphs
//	@Tags			graphs
//	@Produce		json
//	@Success		200	{object}	GraphListResponse
//	@Security		BearerAuth
//	@Router			/graphs [get]
func (h *Handler) ListGraphs(w http.ResponseWriter, r *http.Request) {
	graphs, err := h.eng.ListGraphs(r.Context())
	if err != nil {
		writeError(w, "list graphs", err)
		return
	}
	writeJSON(w, http.StatusOK, GraphListResponse{Graphs: graphs, Total: len(graphs)})
}

// GetGraph handles GET /api/graphs/{name}.
//
//	@Summary		Build a graph and describe its nodes and edges
//	@Tags			graphs
//	@Produce		json
//	@Param			name	path		string	true	"Graph name"
//	@Success		200		{object}	GraphDetail
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/graphs/{name} [get]
func (h *Handler) GetGraph(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")
	detail, err := h.eng.GetGraph(r.Context(), name)
	if err != nil {
		writeError(w, "get graph "+name, err)
		return
	}
	w.Header().Set("ETag", `"`+detail.Checksum+`"`)
	writeJSON(w, http.StatusOK, detail)
}

// GraphText handles GET /api/graphs/{name}/dot.
//
//	@Summary		Render a graph in dot format
//	@Tags			graphs
//	@Produce		plain
//	@Param			name	path		string	true	"Graph name"
//	@Success		200		{string}	string
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/graphs/{name}/dot [get]
func (h *Handler) GraphText(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")
	text, err := h.eng.GraphText(r.Context(), name)
	if err != nil {
		writeError(w, "graph text "+name, err)
		return
	}
	writeText(w, http.StatusOK, "text/vnd.graphviz; charset=utf-8", text)
}

// PutGraph handles PUT /api/graphs/{name}.
//
//	@Summary		Create or replace a graph definition with optimistic concurrency
//	@Tags			graphs
//	@Accept			plain
//	@Produce		json
//	@Param			name		path		string	true	"Graph name"
//	@Param			If-Match	header		string	false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body		body		string	true	"YAML graph definition"
//	@Success		200			{object}	models.GraphSummary
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/graphs/{name} [put]
func (h *Handler) PutGraph(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	name := urlParam(r, "name")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	if len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("definition is required"))
		return
	}

	// Strip surrounding quotes if present (standard ETag format).
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)

	summary, err := h.eng.PutGraph(r.Context(), name, body, ifMatch)
	if err != nil {
		writeError(w, "put graph "+name, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// DeleteGraph handles DELETE /api/graphs/{name}.
//
//	@Summary		Delete a graph definition
//	@Tags			graphs
//	@Param			name	path	string	true	"Graph name"
//	@Success		204		"Graph deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/graphs/{name} [delete]
func (h *Handler) DeleteGraph(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")
	if err := h.eng.DeleteGraph(r.Context(), name); err != nil {
		writeError(w, "delete graph "+name, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunGraph handles POST /api/graphs/{name}/run.
//
//	@Summary		Execute a graph with a fresh ticket
//	@Tags			graphs
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string			true	"Graph name"
//	@Param			body	body		RunGraphRequest	false	"Run parameters"
//	@Success		200		{object}	RunResult
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/graphs/{name}/run [post]
func (h *Handler) RunGraph(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	name := urlParam(r, "name")
	var req RunGraphRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	run := engine.RunRequest{
		Width:     req.Width,
		Height:    req.Height,
		Channels:  req.Channels,
		Workspace: req.Workspace,
	}
	if req.ROI != nil {
		run.ROI = filter.Rect{X: req.ROI.X, Y: req.ROI.Y, Width: req.ROI.Width, Height: req.ROI.Height}
	}
	res, err := h.eng.RunGraph(r.Context(), name, run)
	if err != nil {
		writeError(w, "run graph "+name, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SetNodeOptions handles PUT /api/graphs/{name}/nodes/{node}/options.
//
//	@Summary		Change node options and invalidate dependent contexts
//	@Tags			graphs
//	@Accept			json
//	@Produce		json
//	@Param			name	path		string				true	"Graph name"
//	@Param			node	path		string				true	"Node id"
//	@Param			body	body		NodeOptionsRequest	true	"Options to set"
//	@Success		200		{object}	NodeDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/graphs/{name}/nodes/{node}/options [put]
func (h *Handler) SetNodeOptions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	name, node := urlParam(r, "name"), urlParam(r, "node")
	var req NodeOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if len(req.Options) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("options are required"))
		return
	}
	detail, err := h.eng.SetNodeOptions(r.Context(), name, node, req.Options)
	if err != nil {
		writeError(w, "set options "+name+"/"+node, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ListDevices handles GET /api/devices.
//
//	@Summary		List device bindings
//	@Tags			devices
//	@Produce		json
//	@Success		200	{object}	DeviceListResponse
//	@Security		BearerAuth
//	@Router			/devices [get]
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.eng.ListDevices(r.Context())
	if err != nil {
		writeError(w, "list devices", err)
		return
	}
	writeJSON(w, http.StatusOK, DeviceListResponse{Devices: devices})
}

// GetDevice handles GET /api/devices/{id}.
//
//	@Summary		Get a device binding
//	@Tags			devices
//	@Produce		json
//	@Param			id	path		string	true	"Device id"
//	@Success		200	{object}	models.Device
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/devices/{id} [get]
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	d, err := h.eng.GetDevice(r.Context(), id)
	if err != nil {
		writeError(w, "get device "+id, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// BindDevice handles PUT /api/devices/{id}.
//
//	@Summary		Bind a device to a profile and preferred module
//	@Tags			devices
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Device id"
//	@Param			body	body		BindDeviceRequest	true	"Binding"
//	@Success		200		{object}	models.Device
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/devices/{id} [put]
func (h *Handler) BindDevice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	id := urlParam(r, "id")
	var req BindDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	d, err := h.eng.BindDevice(r.Context(), models.Device{
		ID:        id,
		Class:     req.Class,
		Profile:   req.Profile,
		Preferred: req.Preferred,
	})
	if err != nil {
		writeError(w, "bind device "+id, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// UnbindDevice handles DELETE /api/devices/{id}.
//
//	@Summary		Remove a device binding
//	@Tags			devices
//	@Param			id	path	string	true	"Device id"
//	@Success		204	"Device unbound"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/devices/{id} [delete]
func (h *Handler) UnbindDevice(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.eng.UnbindDevice(r.Context(), id); err != nil {
		writeError(w, "unbind device "+id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CacheStats handles GET /api/cache.
//
//	@Summary		Context cache counters
//	@Tags			cache
//	@Produce		json
//	@Success		200	{object}	ctxcache.Stats
//	@Security		BearerAuth
//	@Router			/cache [get]
func (h *Handler) CacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.CacheStats())
}
