package service

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/okian/matchpoint/internal/adapters/repository"
	"github.com/okian/matchpoint/internal/domain/apperror"
	"github.com/okian/matchpoint/internal/domain/geo"
	"github.com/okian/matchpoint/internal/domain/model"
	"github.com/okian/matchpoint/pkg/logger"
	"github.com/okian/matchpoint/pkg/metrics"
)

// Sort orders accepted by List.
const (
	SortDatetime = "datetime"
	SortCapacity = "capacity"
	SortDistance = "distance"
)

// ListRequest selects and pages upcoming matches.
type ListRequest struct {
	Sport string
	Sort  string
	Page  int
	Limit int

	// Lat and Lng switch to proximity mode when both are set.
	Lat      *float64
	Lng      *float64
	RadiusKm *float64
}

// ListedMatch is a match as returned by discovery. Distances are present in
// proximity mode only.
type ListedMatch struct {
	model.Match
	DistanceMeters *float64 `json:"distanceMeters,omitempty"`
	DistanceKm     *float64 `json:"distanceKm,omitempty"`
}

// ListResult is one page of discovery results.
type ListResult struct {
	Items []ListedMatch `json:"items"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Total int           `json:"total"`
}

// List returns the scheduled, upcoming matches selected by req.
func (s *Service) List(ctx context.Context, req ListRequest) (ListResult, error) {
	const op = "service.list"
	start := time.Now()

	page, limit, err := s.pageBounds(op, req.Page, req.Limit)
	if err != nil {
		return ListResult{}, err
	}
	center, radiusMeters, err := s.proximity(op, req)
	if err != nil {
		return ListResult{}, err
	}
	order := strings.ToLower(strings.TrimSpace(req.Sort))
	switch order {
	case "":
		order = SortDatetime
	case SortDatetime, SortCapacity, SortDistance:
	default:
		return ListResult{}, apperror.Validation(op, "sort must be one of datetime, capacity, distance")
	}
	if order == SortDistance && center == nil {
		order = SortDatetime
	}

	q := repository.Query{
		Status: model.StatusScheduled,
		After:  s.now(),
		Sport:  strings.TrimSpace(req.Sport),
	}
	if center != nil {
		q.Near = center
		q.RadiusMeters = radiusMeters
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	candidates, err := s.store.Query(ctx, q)
	if err != nil {
		return ListResult{}, storeError(op, err)
	}

	items := make([]ListedMatch, 0, len(candidates))
	for _, m := range candidates {
		item := ListedMatch{Match: m}
		if center != nil {
			d := geo.Distance(*center, m.Location)
			if d > radiusMeters {
				continue
			}
			km := math.Round(d/100) / 10
			item.DistanceMeters = &d
			item.DistanceKm = &km
		}
		items = append(items, item)
	}
	sortListed(items, order)

	total := len(items)
	from := total
	// page-1 is compared before multiplying so huge pages cannot overflow.
	if page-1 < total/limit+1 {
		from = min((page-1)*limit, total)
	}
	to := from + min(limit, total-from)

	mode := "list"
	if center != nil {
		mode = "geo"
	}
	metrics.RecordDiscoveryLatency(mode, float64(time.Since(start).Microseconds())/1000)
	s.logger.Debug(ctx, "matches listed",
		logger.String("mode", mode),
		logger.String("sort", order),
		logger.Int("total", total),
		logger.Int("page", page),
	)

	return ListResult{
		Items: items[from:to],
		Page:  page,
		Limit: limit,
		Total: total,
	}, nil
}

func (s *Service) pageBounds(op string, page, limit int) (int, int, error) {
	switch {
	case page < 0:
		return 0, 0, apperror.Validation(op, "page must be >= 1")
	case page == 0:
		page = 1
	}
	switch {
	case limit < 0:
		return 0, 0, apperror.Validation(op, "limit must be >= 1")
	case limit == 0:
		limit = s.defaultLimit
	case limit > s.maxLimit:
		limit = s.maxLimit
	}
	return page, limit, nil
}

func (s *Service) proximity(op string, req ListRequest) (*geo.Point, float64, error) {
	if req.Lat == nil && req.Lng == nil {
		return nil, 0, nil
	}
	if req.Lat == nil || req.Lng == nil {
		return nil, 0, apperror.Validation(op, "lat and lng must be given together")
	}
	center := geo.Point{Lat: *req.Lat, Lng: *req.Lng}
	if err := center.Validate(); err != nil {
		return nil, 0, apperror.WrapKind(op, apperror.ErrValidation, err)
	}
	radiusKm := s.defaultRadiusKm
	if req.RadiusKm != nil {
		radiusKm = *req.RadiusKm
	}
	if math.IsNaN(radiusKm) || radiusKm <= 0 {
		return nil, 0, apperror.WrapKind(op, apperror.ErrValidation, geo.ErrInvalidRadius)
	}
	return &center, radiusKm * 1000, nil
}

func sortListed(items []ListedMatch, order string) {
	slices.SortFunc(items, func(a, b ListedMatch) int {
		var c int
		switch order {
		case SortCapacity:
			c = cmp.Compare(b.Capacity, a.Capacity)
		case SortDistance:
			c = cmp.Compare(*a.DistanceMeters, *b.DistanceMeters)
		default:
			c = a.Datetime.Compare(b.Datetime)
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
