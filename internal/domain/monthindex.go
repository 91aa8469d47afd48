package domain

import (
	"math"
	"slices"
	"sort"
	"time"

	"github.com/dhconnelly/rtreego"
)

const (
	rtreeDims        = 2
	rtreeMinChildren = 25
	rtreeMaxChildren = 50

	// pointExtent gives indexed points a non-degenerate rectangle.
	pointExtent = 1e-9
)

// IndexMeta identifies the ingestion run that produced a MonthIndex.
type IndexMeta struct {
	RunID  string     `json:"run_id"`
	Seq    uint64     `json:"seq"`
	Source SourceKind `json:"source,omitempty"`
}

// MonthIndex maps month keys to points in source iteration order. It is
// immutable once built, so readers may share it without locking.
type MonthIndex struct {
	meta    IndexMeta
	builtAt time.Time
	months  map[string]*monthBucket
	total   int
}

type monthBucket struct {
	points []Point
	tree   *rtreego.Rtree
}

// indexedPoint adapts a point's ordinal within its month to rtreego.Spatial.
type indexedPoint struct {
	ord  int
	rect *rtreego.Rect
}

func (p *indexedPoint) Bounds() *rtreego.Rect { return p.rect }

// MonthIndexBuilder accumulates points for a single run.
type MonthIndexBuilder struct {
	points map[string][]Point
	total  int
}

// NewMonthIndexBuilder returns an empty builder.
func NewMonthIndexBuilder() *MonthIndexBuilder {
	return &MonthIndexBuilder{points: make(map[string][]Point)}
}

// Add appends p to its month.
func (b *MonthIndexBuilder) Add(p Point) {
	b.points[p.MonthKey] = append(b.points[p.MonthKey], p)
	b.total++
}

// Len returns the number of points added so far.
func (b *MonthIndexBuilder) Len() int { return b.total }

// Build freezes the accumulated points into a MonthIndex. The builder must not
// be reused afterwards.
func (b *MonthIndexBuilder) Build(meta IndexMeta) *MonthIndex {
	idx := &MonthIndex{
		meta:    meta,
		builtAt: clock.Now(),
		months:  make(map[string]*monthBucket, len(b.points)),
		total:   b.total,
	}
	for key, pts := range b.points {
		tree := rtreego.NewTree(rtreeDims, rtreeMinChildren, rtreeMaxChildren)
		for i, p := range pts {
			tree.Insert(&indexedPoint{
				ord:  i,
				rect: rtreego.Point{p.Lat, p.Lng}.ToRect(pointExtent),
			})
		}
		idx.months[key] = &monthBucket{points: pts, tree: tree}
	}
	b.points = nil
	return idx
}

// EmptyMonthIndex returns an index with no months.
func EmptyMonthIndex(meta IndexMeta) *MonthIndex {
	return NewMonthIndexBuilder().Build(meta)
}

// Meta returns the run metadata.
func (m *MonthIndex) Meta() IndexMeta {
	if m == nil {
		return IndexMeta{}
	}
	return m.meta
}

// BuiltAt returns when the index was frozen.
func (m *MonthIndex) BuiltAt() time.Time {
	if m == nil {
		return time.Time{}
	}
	return m.builtAt
}

// Get returns a copy of the month's points, or nil when the month is absent.
func (m *MonthIndex) Get(monthKey string) []Point {
	if m == nil {
		return nil
	}
	b, ok := m.months[monthKey]
	if !ok {
		return nil
	}
	return slices.Clone(b.points)
}

// Months returns the month keys in ascending order.
func (m *MonthIndex) Months() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m.months))
	for k := range m.months {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Count returns the number of points stored for a month.
func (m *MonthIndex) Count(monthKey string) int {
	if m == nil {
		return 0
	}
	if b, ok := m.months[monthKey]; ok {
		return len(b.points)
	}
	return 0
}

// Len returns the total number of points across all months.
func (m *MonthIndex) Len() int {
	if m == nil {
		return 0
	}
	return m.total
}

// FirstWithin returns the earliest-inserted point of the month whose latitude
// and longitude each differ from (lat, lng) by less than tol degrees.
func (m *MonthIndex) FirstWithin(monthKey string, lat, lng, tol float64) (Point, bool) {
	if m == nil || tol <= 0 || math.IsNaN(tol) || math.IsInf(tol, 0) {
		return Point{}, false
	}
	b, ok := m.months[monthKey]
	if !ok {
		return Point{}, false
	}

	window, err := rtreego.NewRect(rtreego.Point{lat - tol, lng - tol}, []float64{2 * tol, 2 * tol})
	if err != nil {
		return Point{}, false
	}

	best := -1
	for _, s := range b.tree.SearchIntersect(window) {
		ip, ok := s.(*indexedPoint)
		if !ok {
			continue
		}
		p := b.points[ip.ord]
		// The tree returns a superset; apply the strict per-axis check.
		if math.Abs(p.Lat-lat) >= tol || math.Abs(p.Lng-lng) >= tol {
			continue
		}
		if best == -1 || ip.ord < best {
			best = ip.ord
		}
	}
	if best == -1 {
		return Point{}, false
	}
	return b.points[best], true
}
