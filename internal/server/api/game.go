package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/ayusman/nosegoes/internal/app"
	"github.com/ayusman/nosegoes/internal/game"
)

// Game is what the screen controls need from the application.
type Game interface {
	Start() error
	Reset()
	View() game.View
	Status() app.Status
	Settings() game.Settings
	UpdateSettings(game.Settings) error
	WinnerImage() (*game.Image, bool)
}

// GameHandler serves the session state and its controls.
type GameHandler struct {
	game Game
}

// NewGameHandler creates a GameHandler for g.
func NewGameHandler(g Game) *GameHandler {
	return &GameHandler{game: g}
}

// Register mounts the handlers on r.
func (h *GameHandler) Register(r *httprouter.Router) {
	r.GET("/api/state", h.state)
	r.POST("/api/start", h.start)
	r.POST("/api/reset", h.reset)
	r.GET("/api/settings", h.getSettings)
	r.PUT("/api/settings", h.putSettings)
	r.GET("/api/winner/image", h.winnerImage)
}

// State is the full screen state: the session plus readiness.
type State struct {
	game.View
	Status app.Status `json:"status"`
}

// Snapshot renders the current state of g.
func Snapshot(g Game) State {
	return State{View: g.View(), Status: g.Status()}
}

// state handles GET /api/state.
func (h *GameHandler) state(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, Snapshot(h.game))
}

// start handles POST /api/start, the Start Game button.
func (h *GameHandler) start(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	err := h.game.Start()
	switch {
	case errors.Is(err, game.ErrModelsNotReady):
		writeError(w, http.StatusServiceUnavailable, "Models are still loading, please wait...")
		return
	case errors.Is(err, game.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "A round is already running")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to start")
		return
	}
	writeJSON(w, http.StatusAccepted, Snapshot(h.game))
}

// reset handles POST /api/reset, the Play Again button.
func (h *GameHandler) reset(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	h.game.Reset()
	writeJSON(w, http.StatusOK, Snapshot(h.game))
}

func (h *GameHandler) getSettings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, h.game.Settings())
}

// putSettings handles PUT /api/settings. Fields left out of the body keep
// their current values. Changes apply from the next round.
func (h *GameHandler) putSettings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	settings := h.game.Settings()
	if err := decodeJSON(w, r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := settings.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.game.UpdateSettings(settings); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// winnerImage handles GET /api/winner/image.
func (h *GameHandler) winnerImage(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	img, ok := h.game.WinnerImage()
	if !ok {
		writeError(w, http.StatusNotFound, "No winner image")
		return
	}
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(img.Data)
}
