// Package http exposes the control surface of the playback service: track
// views, transport operations, effect volumes, downloads, lifecycle
// notifications and the status, health and metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickseven/quranic-soul/ambient"
	"github.com/rickseven/quranic-soul/catalog"
	"github.com/rickseven/quranic-soul/download"
	"github.com/rickseven/quranic-soul/entitlement"
	"github.com/rickseven/quranic-soul/lifecycle"
	"github.com/rickseven/quranic-soul/player"
	"github.com/rickseven/quranic-soul/store"
)

const requestTimeout = 30 * time.Second

// Server is the HTTP control API.
type Server struct {
	router       *mux.Router
	player       *player.Player
	catalog      *catalog.Service
	ambient      *ambient.Controller
	downloads    *download.Manager
	entitlements *entitlement.Service
	lifecycle    *lifecycle.Bridge
	store        *store.Store
	logger       *slog.Logger
}

// NewServer creates the server and registers all routes.
func NewServer(
	p *player.Player,
	cat *catalog.Service,
	amb *ambient.Controller,
	dl *download.Manager,
	ent *entitlement.Service,
	lc *lifecycle.Bridge,
	st *store.Store,
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		player:       p,
		catalog:      cat,
		ambient:      amb,
		downloads:    dl,
		entitlements: ent,
		lifecycle:    lc,
		store:        st,
		logger:       logger,
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.healthzHandler).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/status", s.statusHandler).Methods("GET")

	s.router.HandleFunc("/tracks", s.tracksHandler).Methods("GET")
	s.router.HandleFunc("/tracks/{id:[0-9]+}/favorite", s.favoriteHandler).Methods("PUT")
	s.router.HandleFunc("/tracks/{id:[0-9]+}/download", s.startDownloadHandler).Methods("POST")
	s.router.HandleFunc("/tracks/{id:[0-9]+}/download", s.downloadProgressHandler).Methods("GET")
	s.router.HandleFunc("/tracks/{id:[0-9]+}/download", s.removeDownloadHandler).Methods("DELETE")
	s.router.HandleFunc("/catalog/refresh", s.catalogRefreshHandler).Methods("POST")

	s.router.HandleFunc("/playback/play", s.playHandler).Methods("POST")
	s.router.HandleFunc("/playback/pause", s.transportHandler(s.player.Pause)).Methods("POST")
	s.router.HandleFunc("/playback/resume", s.transportHandler(s.player.Resume)).Methods("POST")
	s.router.HandleFunc("/playback/next", s.transportHandler(s.player.Next)).Methods("POST")
	s.router.HandleFunc("/playback/previous", s.transportHandler(s.player.Previous)).Methods("POST")
	s.router.HandleFunc("/playback/stop", s.transportHandler(s.player.Stop)).Methods("POST")
	s.router.HandleFunc("/playback/seek", s.seekHandler).Methods("POST")

	s.router.HandleFunc("/effects", s.effectsHandler).Methods("GET")
	s.router.HandleFunc("/effects/{id}/volume", s.effectVolumeHandler).Methods("PUT")

	s.router.HandleFunc("/lifecycle/background", s.backgroundHandler).Methods("POST")
	s.router.HandleFunc("/lifecycle/foreground", s.foregroundHandler).Methods("POST")

	s.router.HandleFunc("/entitlement", s.entitlementHandler).Methods("GET")
	s.router.HandleFunc("/purchases/restore", s.restoreHandler).Methods("POST")

	s.router.HandleFunc("/settings/theme", s.getThemeHandler).Methods("GET")
	s.router.HandleFunc("/settings/theme", s.setThemeHandler).Methods("PUT")
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	State       string                 `json:"state"`
	Track       *catalog.Track         `json:"track,omitempty"`
	Index       int                    `json:"index"`
	Position    float64                `json:"position_seconds"`
	HasNext     bool                   `json:"has_next"`
	HasPrevious bool                   `json:"has_previous"`
	QueueLength int                    `json:"queue_length"`
	Effects     []ambient.EffectStatus `json:"effects"`
	Tier        string                 `json:"entitlement_tier"`
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	st := s.player.Status()
	s.writeJSON(w, http.StatusOK, statusResponse{
		State:       st.State.String(),
		Track:       st.Track,
		Index:       st.Index,
		Position:    st.Position.Seconds(),
		HasNext:     st.HasNext,
		HasPrevious: st.HasPrevious,
		QueueLength: st.QueueLength,
		Effects:     s.ambient.Status(),
		Tier:        s.entitlements.Current().String(),
	})
}

func (s *Server) tracksHandler(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.tracksForView(r.URL.Query().Get("view"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}

func (s *Server) catalogRefreshHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.catalog.Refresh(ctx); err != nil {
		s.writeError(w, http.StatusBadGateway, "catalog unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tracks": len(s.catalog.All())})
}

type playRequest struct {
	View  string `json:"view"`
	Index int    `json:"index"`
}

func (s *Server) playHandler(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tracks, err := s.tracksForView(req.View)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.player.LoadQueue(tracks, req.Index); err != nil {
		if errors.Is(err, player.ErrEmptyQueue) || errors.Is(err, player.ErrIndexOutOfRange) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to start playback")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "loading"})
}

func (s *Server) transportHandler(op func()) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		op()
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

type seekRequest struct {
	PositionSeconds float64 `json:"position_seconds"`
}

func (s *Server) seekHandler(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PositionSeconds < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.player.Seek(time.Duration(req.PositionSeconds * float64(time.Second)))
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) effectsHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"effects": s.ambient.Status()})
}

type volumeRequest struct {
	Volume float64 `json:"volume"`
}

func (s *Server) effectVolumeHandler(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	effectID := mux.Vars(r)["id"]
	if err := s.ambient.SetVolume(effectID, req.Volume); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type favoriteRequest struct {
	Favorite bool `json:"favorite"`
}

func (s *Server) favoriteHandler(w http.ResponseWriter, r *http.Request) {
	track, ok := s.trackFromRequest(w, r)
	if !ok {
		return
	}

	var req favoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.catalog.SetFavorite(track.ID, req.Favorite); err != nil {
		s.logger.Error("Failed to set favorite", "track_id", track.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to persist favorite")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"track_id": track.ID, "favorite": req.Favorite})
}

func (s *Server) startDownloadHandler(w http.ResponseWriter, r *http.Request) {
	track, ok := s.trackFromRequest(w, r)
	if !ok {
		return
	}

	transferID, err := s.downloads.Start(track)
	if err != nil {
		if errors.Is(err, download.ErrTransferInProgress) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to start download")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"transfer_id": transferID})
}

func (s *Server) downloadProgressHandler(w http.ResponseWriter, r *http.Request) {
	track, ok := s.trackFromRequest(w, r)
	if !ok {
		return
	}

	progress, active := s.downloads.Progress(track.ID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"track_id":   track.ID,
		"active":     active,
		"progress":   progress,
		"downloaded": track.Downloaded,
	})
}

func (s *Server) removeDownloadHandler(w http.ResponseWriter, r *http.Request) {
	track, ok := s.trackFromRequest(w, r)
	if !ok {
		return
	}

	if err := s.downloads.Remove(track); err != nil {
		s.logger.Error("Failed to remove download", "track_id", track.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to remove download")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"track_id": track.ID, "downloaded": false})
}

func (s *Server) backgroundHandler(w http.ResponseWriter, r *http.Request) {
	s.lifecycle.Background(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) foregroundHandler(w http.ResponseWriter, r *http.Request) {
	s.lifecycle.Foreground(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]string{
		"entitlement_tier": s.entitlements.Current().String(),
	})
}

func (s *Server) entitlementHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"tier": s.entitlements.Current().String(),
	})
}

func (s *Server) restoreHandler(w http.ResponseWriter, r *http.Request) {
	tier := s.entitlements.Refresh(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]string{"tier": tier.String()})
}

func (s *Server) getThemeHandler(w http.ResponseWriter, _ *http.Request) {
	theme, err := s.store.Theme()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read theme")
		return
	}
	if theme == "" {
		theme = "light"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"theme": theme})
}

type themeRequest struct {
	Theme string `json:"theme"`
}

func (s *Server) setThemeHandler(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Theme != "light" && req.Theme != "dark" {
		s.writeError(w, http.StatusBadRequest, "theme must be light or dark")
		return
	}

	if err := s.store.SetTheme(req.Theme); err != nil {
		s.logger.Error("Failed to persist theme", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to persist theme")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"theme": req.Theme})
}

func (s *Server) tracksForView(view string) ([]catalog.Track, error) {
	switch view {
	case "", "all":
		return s.catalog.All(), nil
	case "recommended":
		return s.catalog.Recommended(), nil
	case "favorites":
		return s.catalog.Favorites(), nil
	default:
		return nil, errors.New("unknown view: " + view)
	}
}

func (s *Server) trackFromRequest(w http.ResponseWriter, r *http.Request) (catalog.Track, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid track id")
		return catalog.Track{}, false
	}

	track, found := s.catalog.Get(id)
	if !found {
		s.writeError(w, http.StatusNotFound, "track not found")
		return catalog.Track{}, false
	}
	return track, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
