package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/okian/matchpoint/internal/adapters/media"
	service "github.com/okian/matchpoint/internal/app"
	"github.com/okian/matchpoint/internal/domain/apperror"
	"github.com/okian/matchpoint/internal/domain/geo"
	"github.com/okian/matchpoint/internal/domain/lifecycle"
	"github.com/okian/matchpoint/internal/domain/model"
)

// MatchesHandler serves the /matches resource.
type MatchesHandler struct {
	deps Dependencies
}

// NewMatchesHandler creates a new matches handler.
func NewMatchesHandler(deps Dependencies) *MatchesHandler {
	return &MatchesHandler{deps: deps}
}

// createRequest mirrors the OpenAPI schema for POST /matches. Age bounds are
// accepted flat or nested under "age".
type createRequest struct {
	Title       string    `json:"title"`
	Sport       string    `json:"sport"`
	Datetime    string    `json:"datetime"`
	Location    *location `json:"location"`
	Capacity    *int      `json:"capacity"`
	MinAge      *int      `json:"minAge"`
	MaxAge      *int      `json:"maxAge"`
	Age         *ageRange `json:"age"`
	Gender      string    `json:"gender"`
	Visibility  string    `json:"visibility"`
	Description string    `json:"description"`
	Imagery     []string  `json:"imagery"`
}

type location struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type ageRange struct {
	MinAge *int `json:"minAge"`
	MaxAge *int `json:"maxAge"`
}

func (c createRequest) toSpec(op string) (service.CreateSpec, error) {
	if strings.TrimSpace(c.Sport) == "" {
		return service.CreateSpec{}, apperror.Validation(op, "sport required")
	}
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(c.Datetime))
	if err != nil {
		return service.CreateSpec{}, apperror.Validation(op, "invalid datetime; must be RFC3339")
	}
	if c.Location == nil || c.Location.Lat == nil || c.Location.Lng == nil {
		return service.CreateSpec{}, apperror.Validation(op, "location (lat/lng) required")
	}
	if c.Capacity == nil {
		return service.CreateSpec{}, apperror.Validation(op, "capacity required")
	}
	spec := service.CreateSpec{
		Title:       c.Title,
		Sport:       c.Sport,
		Datetime:    at,
		Location:    geo.Point{Lat: *c.Location.Lat, Lng: *c.Location.Lng},
		Capacity:    *c.Capacity,
		MinAge:      c.MinAge,
		MaxAge:      c.MaxAge,
		Gender:      model.Gender(c.Gender),
		Visibility:  model.Visibility(c.Visibility),
		Description: c.Description,
		Imagery:     c.Imagery,
	}
	if c.Age != nil {
		if c.Age.MinAge != nil {
			spec.MinAge = c.Age.MinAge
		}
		if c.Age.MaxAge != nil {
			spec.MaxAge = c.Age.MaxAge
		}
	}
	return spec, nil
}

type imageryRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

type imageryResponse struct {
	Upload media.Upload `json:"upload"`
	Match  model.Match  `json:"match"`
}

type listMeta struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// HandleList handles GET /matches.
func (h *MatchesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_matches"
	req, err := parseListQuery(op, r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	res, err := h.deps.List(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data:    res.Items,
		Meta:    listMeta{Page: res.Page, Limit: res.Limit, Total: res.Total},
	})
}

func parseListQuery(op string, r *http.Request) (service.ListRequest, error) {
	q := r.URL.Query()
	req := service.ListRequest{
		Sport: q.Get("sport"),
		Sort:  q.Get("sort"),
	}
	var err error
	if req.Page, err = intParam(op, q.Get("page"), "page"); err != nil {
		return req, err
	}
	if req.Limit, err = intParam(op, q.Get("limit"), "limit"); err != nil {
		return req, err
	}
	if req.Lat, err = floatParam(op, q.Get("lat"), "lat"); err != nil {
		return req, err
	}
	if req.Lng, err = floatParam(op, q.Get("lng"), "lng"); err != nil {
		return req, err
	}
	if req.RadiusKm, err = floatParam(op, q.Get("radius"), "radius"); err != nil {
		return req, err
	}
	return req, nil
}

func intParam(op, raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, apperror.Validation(op, name+" must be a positive integer")
	}
	return v, nil
}

func floatParam(op, raw, name string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperror.Validation(op, name+" must be a number")
	}
	return &v, nil
}

// HandleGet handles GET /matches/{id}.
func (h *MatchesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	m, err := h.deps.GetMatch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, m)
}

// HandleCreate handles POST /matches.
func (h *MatchesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_match"
	var req createRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	spec, err := req.toSpec(op)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	spec.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	m, err := h.deps.CreateMatch(r.Context(), UserID(r.Context()), spec)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusCreated, m)
}

// HandleJoin handles POST /matches/{id}/join.
func (h *MatchesHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	m, err := h.deps.Join(r.Context(), mux.Vars(r)["id"], UserID(r.Context()))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, m)
}

// HandleLeave handles POST /matches/{id}/leave.
func (h *MatchesHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	m, err := h.deps.Leave(r.Context(), mux.Vars(r)["id"], UserID(r.Context()))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, m)
}

// HandleAction handles POST /matches/{id}/actions and PATCH /matches/{id}.
func (h *MatchesHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	const op = "api.apply_action"
	var req lifecycle.Request
	if err := decodeJSON(w, r, op, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	action, err := lifecycle.Parse(req)
	if err != nil {
		writeError(r.Context(), w, apperror.WrapKind(op, apperror.ErrValidation, err))
		return
	}
	m, err := h.deps.Apply(r.Context(), mux.Vars(r)["id"], UserID(r.Context()), action)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, m)
}

// HandleImagery handles POST /matches/{id}/imagery.
func (h *MatchesHandler) HandleImagery(w http.ResponseWriter, r *http.Request) {
	const op = "api.presign_imagery"
	var req imageryRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	upload, m, err := h.deps.PresignImagery(r.Context(), mux.Vars(r)["id"], UserID(r.Context()), req.FileName, req.ContentType)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, imageryResponse{Upload: upload, Match: m})
}
