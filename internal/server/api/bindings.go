package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/ayusman/nosegoes/internal/game"
	"github.com/ayusman/nosegoes/internal/plugin"
	"github.com/ayusman/nosegoes/internal/store"
)

// Events that may be routed to a plugin. Per-frame players events are not.
var bindableEvents = map[string]bool{
	string(game.EventState):       true,
	string(game.EventTick):        true,
	string(game.EventWinner):      true,
	string(game.EventWinnerImage): true,
	string(game.EventAdvisory):    true,
}

// BindingHandler handles HTTP requests for event-to-plugin bindings.
type BindingHandler struct {
	store   *store.Store
	plugins *plugin.Manager
}

// NewBindingHandler creates a BindingHandler. plugins may be nil, in which
// case plugin and action names are not checked.
func NewBindingHandler(s *store.Store, plugins *plugin.Manager) *BindingHandler {
	return &BindingHandler{store: s, plugins: plugins}
}

// Register mounts the handlers on r.
func (h *BindingHandler) Register(r *httprouter.Router) {
	r.GET("/api/bindings", h.list)
	r.POST("/api/bindings", h.create)
	r.GET("/api/bindings/:id", h.get)
	r.PUT("/api/bindings/:id", h.update)
	r.DELETE("/api/bindings/:id", h.delete)
	r.GET("/api/plugins", h.listPlugins)
}

type createBindingRequest struct {
	Event      string          `json:"event"`
	PluginName string          `json:"plugin"`
	ActionName string          `json:"action"`
	Config     json.RawMessage `json:"config"`
}

type updateBindingRequest struct {
	Event      string          `json:"event"`
	PluginName string          `json:"plugin"`
	ActionName string          `json:"action"`
	Config     json.RawMessage `json:"config"`
	Enabled    *bool           `json:"enabled"`
}

type listBindingsResponse struct {
	Bindings []*store.Binding `json:"bindings"`
}

type pluginResponse struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
	Events      []string `json:"events"`
}

// list handles GET /api/bindings.
func (h *BindingHandler) list(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	bindings, err := h.store.Bindings().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list bindings")
		return
	}
	if bindings == nil {
		bindings = []*store.Binding{}
	}
	writeJSON(w, http.StatusOK, listBindingsResponse{Bindings: bindings})
}

// get handles GET /api/bindings/:id.
func (h *BindingHandler) get(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	b, err := h.store.Bindings().GetByID(ps.ByName("id"))
	if err != nil {
		h.storeError(w, err, "Failed to get binding")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// create handles POST /api/bindings.
func (h *BindingHandler) create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createBindingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	switch {
	case req.Event == "":
		writeError(w, http.StatusBadRequest, "event is required")
		return
	case req.PluginName == "":
		writeError(w, http.StatusBadRequest, "plugin is required")
		return
	case req.ActionName == "":
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}
	if msg := h.validate(req.Event, req.PluginName, req.ActionName); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	b := &store.Binding{
		ID:         uuid.New().String(),
		Event:      req.Event,
		PluginName: req.PluginName,
		ActionName: req.ActionName,
		Config:     req.Config,
		Enabled:    true,
	}
	if b.Config == nil {
		b.Config = json.RawMessage("{}")
	}

	if err := h.store.Bindings().Create(b); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create binding")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// update handles PUT /api/bindings/:id. Empty fields are left unchanged.
func (h *BindingHandler) update(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	b, err := h.store.Bindings().GetByID(ps.ByName("id"))
	if err != nil {
		h.storeError(w, err, "Failed to get binding")
		return
	}

	var req updateBindingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Event != "" {
		b.Event = req.Event
	}
	if req.PluginName != "" {
		b.PluginName = req.PluginName
	}
	if req.ActionName != "" {
		b.ActionName = req.ActionName
	}
	if req.Config != nil {
		b.Config = req.Config
	}
	if req.Enabled != nil {
		b.Enabled = *req.Enabled
	}
	if msg := h.validate(b.Event, b.PluginName, b.ActionName); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := h.store.Bindings().Update(b); err != nil {
		h.storeError(w, err, "Failed to update binding")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// delete handles DELETE /api/bindings/:id.
func (h *BindingHandler) delete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := h.store.Bindings().Delete(ps.ByName("id")); err != nil {
		h.storeError(w, err, "Failed to delete binding")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listPlugins handles GET /api/plugins.
func (h *BindingHandler) listPlugins(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	out := []pluginResponse{}
	if h.plugins != nil {
		for _, p := range h.plugins.List() {
			out = append(out, pluginResponse{
				Name:        p.Manifest.Name,
				Version:     p.Manifest.Version,
				Description: p.Manifest.Description,
				Actions:     p.Manifest.Actions,
				Events:      p.Manifest.Events,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"plugins": out})
}

// validate returns a message describing why the binding is unusable, or ""
// when it is fine.
func (h *BindingHandler) validate(event, pluginName, action string) string {
	if !bindableEvents[event] {
		return "Unknown event: " + event
	}
	if h.plugins == nil {
		return ""
	}
	p, err := h.plugins.Get(pluginName)
	if err != nil {
		return "Plugin not found"
	}
	for _, a := range p.Manifest.Actions {
		if a == action {
			return ""
		}
	}
	return "Plugin has no action " + action
}

func (h *BindingHandler) storeError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Binding not found")
		return
	}
	writeError(w, http.StatusInternalServerError, message)
}
