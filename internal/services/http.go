package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/dpup/prefab/logging"

	"github.com/roadwatch/defectmap/server/internal/clients/defects"
	"github.com/roadwatch/defectmap/server/internal/clients/ipgeo"
	"github.com/roadwatch/defectmap/server/internal/lib/geo"
	"github.com/roadwatch/defectmap/server/internal/lib/mapview"
	"github.com/roadwatch/defectmap/server/internal/navigator"
)

// Paths served by HTTPHandlers
const (
	MapPath       = "/api/v1/map"
	HeatMapPath   = "/api/v1/heatmap"
	AdvisoryPath  = "/api/v1/advisory"
	SessionsPath  = "/api/v1/navigator/sessions"
	sessionPrefix = SessionsPath + "/"
)

// Error kinds reported to clients
const (
	KindLocationUnavailable = "location_unavailable"
	KindQueryFailed         = "query_failed"
	KindMalformedResponse   = "malformed_response"
	KindInvalidRequest      = "invalid_request"
	KindNotFound            = "not_found"
	KindInternal            = "internal"
)

const maxRequestBytes = 1 << 20

// ErrorKind classifies an error for clients and logs
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ipgeo.ErrLocationUnavailable):
		return KindLocationUnavailable
	case errors.Is(err, defects.ErrMalformedResponse):
		return KindMalformedResponse
	case errors.Is(err, defects.ErrQueryFailed), errors.Is(err, context.DeadlineExceeded):
		return KindQueryFailed
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, navigator.ErrNoRoute):
		return KindInvalidRequest
	case errors.Is(err, navigator.ErrSessionNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

func statusFor(kind string) int {
	switch kind {
	case KindLocationUnavailable:
		return http.StatusServiceUnavailable
	case KindQueryFailed, KindMalformedResponse:
		return http.StatusBadGateway
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// HTTPHandlers serves the JSON API
type HTTPHandlers struct {
	advisory  *AdvisoryService
	heatMap   *HeatMapService
	navigator *navigator.Navigator
}

// NewHTTPHandlers creates the API handlers
func NewHTTPHandlers(advisoryService *AdvisoryService, heatMapService *HeatMapService, nav *navigator.Navigator) *HTTPHandlers {
	return &HTTPHandlers{
		advisory:  advisoryService,
		heatMap:   heatMapService,
		navigator: nav,
	}
}

// Map serves the map view settings
func (h *HTTPHandlers) Map(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, mapview.DefaultSettings())
}

// HeatMap serves weighted defect points around lat/lng, or around the caller
func (h *HTTPHandlers) HeatMap(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	var center *geo.Point
	if q.Get("lat") != "" || q.Get("lng") != "" {
		p, err := geo.ParsePoint(q.Get("lat") + "," + q.Get("lng"))
		if err != nil {
			writeError(r.Context(), w, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
			return
		}
		center = &p
	}

	var radius float64
	if raw := q.Get("radius"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			writeError(r.Context(), w, fmt.Errorf("%w: radius must be a positive number", ErrInvalidRequest))
			return
		}
		radius = v
	}

	heatMap, err := h.heatMap.Nearby(r.Context(), center, radius, clientIP(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, heatMap)
}

// Advisory computes an advisory for a path or an origin/destination pair
func (h *HTTPHandlers) Advisory(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}

	var req AdviceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	report, err := h.advisory.Advise(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, report)
}

// Sessions creates navigator sessions
func (h *HTTPHandlers) Sessions(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	writeJSON(r.Context(), w, http.StatusCreated, h.navigator.Create(r.Context()))
}

// clickRequest is the body of a click
type clickRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// Session serves one navigator session and its sub-resources:
//
//	GET    {id}            current state
//	DELETE {id}            drop the session
//	POST   {id}/clicks     map click
//	POST   {id}/refresh    re-run the current lookup
//	GET    {id}/route.kml  KML export
func (h *HTTPHandlers) Session(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, action, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, sessionPrefix), "/")
	if id == "" {
		writeError(ctx, w, fmt.Errorf("%w: missing session id", ErrInvalidRequest))
		return
	}

	switch action {
	case "":
		if !allowMethods(w, r, http.MethodGet, http.MethodDelete) {
			return
		}
		if r.Method == http.MethodDelete {
			if err := h.navigator.Delete(id); err != nil {
				writeError(ctx, w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s, err := h.navigator.Get(id)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, http.StatusOK, s.State())

	case "clicks":
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		var req clickRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(ctx, w, err)
			return
		}
		if req.Lat == nil || req.Lng == nil {
			writeError(ctx, w, fmt.Errorf("%w: lat and lng are required", ErrInvalidRequest))
			return
		}
		p, err := geo.NewPoint(*req.Lat, *req.Lng)
		if err != nil {
			writeError(ctx, w, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
			return
		}
		state, err := h.navigator.Click(ctx, id, p)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, http.StatusAccepted, state)

	case "refresh":
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		state, err := h.navigator.Refresh(ctx, id)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, http.StatusAccepted, state)

	case "route.kml":
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		s, err := h.navigator.Get(id)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		state := s.State()
		if state.Report == nil {
			writeError(ctx, w, fmt.Errorf("%w: session has no route yet", ErrInvalidRequest))
			return
		}
		w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "route-"+id+".kml"))
		if err := WriteReportKML(w, "Route "+id, state.Report); err != nil {
			logging.Errorw(ctx, "Failed to write KML", "session_id", id, "error", err)
		}

	default:
		http.NotFound(w, r)
	}
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %w", ErrInvalidRequest, err)
	}
	return nil
}

// errorResponse is the JSON body of every error
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := ErrorKind(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		logging.Errorw(ctx, "Request failed", "kind", kind, "error", err)
	} else {
		logging.Infow(ctx, "Request rejected", "kind", kind, "error", err)
	}
	writeJSON(ctx, w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Errorw(ctx, "Failed to write response", "error", err)
	}
}

// clientIP prefers the first X-Forwarded-For hop over the socket address
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
