package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc/codes"

	"github.com/dpup/ride.ersn.net/server/internal/lib/export"
	"github.com/dpup/ride.ersn.net/server/internal/lib/geo"
	"github.com/dpup/ride.ersn.net/server/internal/lib/i18n"
	"github.com/dpup/ride.ersn.net/server/internal/store"
)

// Geocoder turns a coordinate into an address in the given language
type Geocoder interface {
	ReverseGeocodeIn(ctx context.Context, point geo.Point, language string) (string, error)
}

// HistoryLister lists recent route searches
type HistoryLister interface {
	Recent(ctx context.Context, limit int) ([]store.Entry, error)
}

// API serves the ride endpoints over JSON
type API struct {
	sessions     *Sessions
	geocoder     Geocoder      // optional
	history      HistoryLister // optional
	historyLimit int
}

// NewAPI creates the HTTP API
func NewAPI(sessions *Sessions, geocoder Geocoder, history HistoryLister, historyLimit int) *API {
	return &API{
		sessions:     sessions,
		geocoder:     geocoder,
		history:      history,
		historyLimit: historyLimit,
	}
}

// Routes returns the router for everything under /api/v1
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(withLogger)
	r.Use(recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/rides", a.createRide)
		r.Route("/rides/{id}", func(r chi.Router) {
			r.Get("/", a.withRide(a.getRide))
			r.Delete("/", a.deleteRide)
			r.Post("/search", a.withRide(a.search))
			r.Post("/play", a.withRide(a.action((*Ride).Play)))
			r.Post("/pause", a.withRide(a.action((*Ride).Pause)))
			r.Post("/toggle", a.withRide(a.action((*Ride).Toggle)))
			r.Post("/stop", a.withRide(a.action((*Ride).Stop)))
			r.Post("/seek", a.withRide(a.seek))
			r.Post("/speed", a.withRide(a.setSpeed))
			r.Post("/spacing", a.withRide(a.setSpacing))
			r.Post("/language", a.withRide(a.setLanguage))
			r.Get("/samples", a.withRide(a.samples))
			r.Get("/route.kml", a.withRide(a.routeKML))
			r.Get("/feed", a.withRide(func(w http.ResponseWriter, req *http.Request, ride *Ride) {
				serveFeed(w, req, ride)
			}))
		})
		r.Get("/geocode/reverse", a.reverseGeocode)
		r.Get("/history", a.listHistory)
	})
	return r
}

type rideHandler func(w http.ResponseWriter, r *http.Request, ride *Ride)

func (a *API) withRide(h rideHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ride, err := a.sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		h(w, r, ride)
	}
}

// action adapts a parameterless ride command and replies with the snapshot
func (a *API) action(fn func(*Ride, context.Context) error) rideHandler {
	return func(w http.ResponseWriter, r *http.Request, ride *Ride) {
		if err := fn(ride, r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
		writeSnapshot(w, r, ride)
	}
}

type createRideRequest struct {
	Language string `json:"language"`
}

func (a *API) createRide(w http.ResponseWriter, r *http.Request) {
	var req createRideRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	lang := req.Language
	if lang == "" {
		lang = r.Header.Get("Accept-Language")
	}

	ride, err := a.sessions.Create(i18n.Match(lang))
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := ride.Snapshot(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, snap)
}

func (a *API) getRide(w http.ResponseWriter, r *http.Request, ride *Ride) {
	writeSnapshot(w, r, ride)
}

func (a *API) deleteRide(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchRequest struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Language string `json:"language"`
}

func (a *API) search(w http.ResponseWriter, r *http.Request, ride *Ride) {
	var req searchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	err := ride.Dispatch(r.Context(), Command{Type: "search", Start: req.Start, End: req.End, Language: req.Language})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSnapshotStatus(w, r, ride, http.StatusAccepted)
}

type seekRequest struct {
	Index *int     `json:"index"`
	Lat   *float64 `json:"lat"`
	Lng   *float64 `json:"lng"`
}

func (a *API) seek(w http.ResponseWriter, r *http.Request, ride *Ride) {
	var req seekRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	cmd := Command{Type: "seek", Index: req.Index}
	if req.Index == nil && req.Lat != nil && req.Lng != nil {
		cmd.Point = &geo.Point{Latitude: *req.Lat, Longitude: *req.Lng}
	}
	if err := ride.Dispatch(r.Context(), cmd); err != nil {
		writeError(w, r, err)
		return
	}
	writeSnapshot(w, r, ride)
}

type speedRequest struct {
	Millis int64 `json:"ms"`
}

func (a *API) setSpeed(w http.ResponseWriter, r *http.Request, ride *Ride) {
	var req speedRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := ride.SetSpeed(r.Context(), time.Duration(req.Millis)*time.Millisecond); err != nil {
		writeError(w, r, err)
		return
	}
	writeSnapshot(w, r, ride)
}

type spacingRequest struct {
	Meters float64 `json:"meters"`
}

func (a *API) setSpacing(w http.ResponseWriter, r *http.Request, ride *Ride) {
	var req spacingRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := ride.SetSampleSpacing(r.Context(), req.Meters); err != nil {
		writeError(w, r, err)
		return
	}
	writeSnapshot(w, r, ride)
}

type languageRequest struct {
	Language string `json:"language"`
}

func (a *API) setLanguage(w http.ResponseWriter, r *http.Request, ride *Ride) {
	var req languageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := ride.SetLanguage(r.Context(), req.Language); err != nil {
		writeError(w, r, err)
		return
	}
	writeSnapshot(w, r, ride)
}

type samplesResponse struct {
	SpacingMeters float64      `json:"spacing_meters"`
	Samples       []sampleJSON `json:"samples"`
}

type sampleJSON struct {
	Index       int       `json:"index"`
	Coordinate  geo.Point `json:"coordinate"`
	Instruction int       `json:"instruction"`
}

func (a *API) samples(w http.ResponseWriter, r *http.Request, ride *Ride) {
	seq, err := ride.Samples(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := ride.Snapshot(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := samplesResponse{SpacingMeters: snap.Playback.SpacingMeters, Samples: make([]sampleJSON, len(seq))}
	for i, s := range seq {
		resp.Samples[i] = sampleJSON{Index: i, Coordinate: s.Coordinate, Instruction: s.SourceInstructionIndex}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (a *API) routeKML(w http.ResponseWriter, r *http.Request, ride *Ride) {
	out, err := ride.Export(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteKML(&buf, out); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "ride-"+ride.ID()+".kml"))
	_, _ = w.Write(buf.Bytes())
}

type reverseGeocodeResponse struct {
	Address string `json:"address"`
}

// reverseGeocode resolves the browser's position into a start location
func (a *API) reverseGeocode(w http.ResponseWriter, r *http.Request) {
	if a.geocoder == nil {
		writeError(w, r, errors.NewC("geocoding is not configured", codes.Unavailable))
		return
	}

	lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, lngErr := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	point := geo.Point{Latitude: lat, Longitude: lng}
	if latErr != nil || lngErr != nil || !geo.IsValid(point) {
		writeError(w, r, invalidArgument("lat and lng query parameters are required"))
		return
	}

	lang := i18n.Match(r.Header.Get("Accept-Language"))
	address, err := a.geocoder.ReverseGeocodeIn(r.Context(), point, lang.String())
	if err != nil {
		logging.Warnw(r.Context(), "Reverse geocode failed", "error", err)
		writeError(w, r, errors.NewC(i18n.New(lang).Text(i18n.GeolocationError), codes.Unavailable))
		return
	}
	writeJSON(w, r, http.StatusOK, reverseGeocodeResponse{Address: address})
}

type historyResponse struct {
	Entries []store.Entry `json:"entries"`
}

func (a *API) listHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeJSON(w, r, http.StatusOK, historyResponse{Entries: []store.Entry{}})
		return
	}

	limit := a.historyLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, invalidArgument("limit must be a positive integer"))
			return
		}
		limit = min(n, a.historyLimit)
	}

	entries, err := a.history.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, historyResponse{Entries: entries})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return invalidArgument("invalid request body: " + err.Error())
	}
	return nil
}

// decodeOptional accepts an empty body
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return decode(r, v)
}

func writeSnapshot(w http.ResponseWriter, r *http.Request, ride *Ride) {
	writeSnapshotStatus(w, r, ride, http.StatusOK)
}

func writeSnapshotStatus(w http.ResponseWriter, r *http.Request, ride *Ride, status int) {
	snap, err := ride.Snapshot(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, status, snap)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Errorw(r.Context(), "Failed to write response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		logging.Errorw(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, r, status, errorResponse{Error: err.Error(), Code: errors.Code(err).String()})
}

// withLogger makes sure handlers can log when the router is served outside
// prefab's own middleware
func withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(logging.EnsureLogger(r.Context())))
	})
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err, _ := errors.ParseStack(debug.Stack())
				skipFrames := 3
				numFrames := 5
				logging.Errorw(r.Context(), "HTTP handler: recovered from panic",
					"path", r.URL.Path, "error", rec, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
				writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: codes.Internal.String()})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
