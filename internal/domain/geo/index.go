package geo

import (
	"math"
	"sort"
)

// DefaultCellDegrees is the default grid resolution (~11 km of latitude).
const DefaultCellDegrees = 0.1

type cell struct {
	lat, lng int
}

// Index buckets points into a fixed lat/lng grid so that proximity queries
// only visit the cells overlapping the query's bounding box.
//
// Index is not safe for concurrent use; owners guard it with their own lock.
type Index struct {
	cellDeg float64
	cells   map[cell]map[string]Point
	byID    map[string]cell
}

// NewIndex creates an Index with the given cell size in degrees. Non-positive
// sizes fall back to DefaultCellDegrees.
func NewIndex(cellDegrees float64) *Index {
	if cellDegrees <= 0 {
		cellDegrees = DefaultCellDegrees
	}
	return &Index{
		cellDeg: cellDegrees,
		cells:   make(map[cell]map[string]Point),
		byID:    make(map[string]cell),
	}
}

func (ix *Index) cellOf(p Point) cell {
	return cell{
		lat: int(math.Floor(p.Lat / ix.cellDeg)),
		lng: int(math.Floor(p.Lng / ix.cellDeg)),
	}
}

// Put inserts or moves id to p.
func (ix *Index) Put(id string, p Point) {
	ix.Remove(id)
	c := ix.cellOf(p)
	bucket, ok := ix.cells[c]
	if !ok {
		bucket = make(map[string]Point)
		ix.cells[c] = bucket
	}
	bucket[id] = p
	ix.byID[id] = c
}

// Remove deletes id from the index. Unknown ids are ignored.
func (ix *Index) Remove(id string) {
	c, ok := ix.byID[id]
	if !ok {
		return
	}
	delete(ix.byID, id)
	bucket := ix.cells[c]
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(ix.cells, c)
	}
}

// Len returns the number of indexed ids.
func (ix *Index) Len() int { return len(ix.byID) }

// Hit is an id with its exact distance from the query center.
type Hit struct {
	ID             string
	DistanceMeters float64
}

// Within returns the ids whose points lie within radiusMeters of center,
// ordered by ascending distance (ties by id).
func (ix *Index) Within(center Point, radiusMeters float64) []Hit {
	box := BoundingBox(center, radiusMeters)
	var hits []Hit
	visit := func(bucket map[string]Point) {
		for id, p := range bucket {
			if !box.Contains(p) {
				continue
			}
			if d := Distance(center, p); d <= radiusMeters {
				hits = append(hits, Hit{ID: id, DistanceMeters: d})
			}
		}
	}

	minLat := int(math.Floor(box.MinLat / ix.cellDeg))
	maxLat := int(math.Floor(box.MaxLat / ix.cellDeg))
	lngRanges := [][2]float64{{box.MinLng, box.MaxLng}}
	if box.WrapsAntimeridian() {
		lngRanges = [][2]float64{{box.MinLng, 180}, {-180, box.MaxLng}}
	}

	cellCount := 0
	for _, r := range lngRanges {
		cellCount += (int(math.Floor(r[1]/ix.cellDeg)) - int(math.Floor(r[0]/ix.cellDeg)) + 1) * (maxLat - minLat + 1)
	}

	// Wide queries over a sparse grid: scanning the occupied cells is cheaper.
	if cellCount > len(ix.cells) {
		for _, bucket := range ix.cells {
			visit(bucket)
		}
	} else {
		for _, r := range lngRanges {
			minLng := int(math.Floor(r[0] / ix.cellDeg))
			maxLng := int(math.Floor(r[1] / ix.cellDeg))
			for la := minLat; la <= maxLat; la++ {
				for lo := minLng; lo <= maxLng; lo++ {
					if bucket, ok := ix.cells[cell{lat: la, lng: lo}]; ok {
						visit(bucket)
					}
				}
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DistanceMeters != hits[j].DistanceMeters {
			return hits[i].DistanceMeters < hits[j].DistanceMeters
		}
		return hits[i].ID < hits[j].ID
	})
	return hits
}
