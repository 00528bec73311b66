// Package correction implements operator-driven local corrections to a
// deformation field. The operator marks a reference point (where a
// feature of the uncorrected target currently sits) and a target point
// (where it should sit); the blender folds the resulting offsets into
// the field with smooth Gaussian falloff.
package correction

import "fmt"

// Point is a position in preview-resolution coordinates.
type Point struct {
	X float64
	Y float64
}

// Pair is one completed correction: a reference position and the target
// position it should move to. Offset() is the displacement the operator
// asked for, at the preview resolution the pair was placed at.
type Pair struct {
	Reference Point
	Target    Point
}

// Offset returns (tx-rx, ty-ry).
func (p Pair) Offset() (dx, dy float64) {
	return p.Target.X - p.Reference.X, p.Target.Y - p.Reference.Y
}

// PointList is the ordered collection of correction points for one
// session. References and targets are paired strictly by sequence: the
// n-th reference belongs to the n-th target regardless of click order or
// spatial proximity. All coordinates are expressed at the preview
// resolution recorded on the list.
type PointList struct {
	// PreviewWidth and PreviewHeight are the resolution the operator
	// was viewing when the points were placed.
	PreviewWidth  int
	PreviewHeight int

	references []Point
	targets    []Point
}

// NewPointList creates an empty list tied to a preview resolution.
func NewPointList(previewWidth, previewHeight int) *PointList {
	return &PointList{PreviewWidth: previewWidth, PreviewHeight: previewHeight}
}

// AddReference appends a reference point.
func (l *PointList) AddReference(p Point) {
	l.references = append(l.references, p)
}

// AddTarget appends a target point.
func (l *PointList) AddTarget(p Point) {
	l.targets = append(l.targets, p)
}

// Len returns the number of pair slots, counting half-completed pairs.
func (l *PointList) Len() int {
	if len(l.references) > len(l.targets) {
		return len(l.references)
	}
	return len(l.targets)
}

// Pairs returns the completed pairs in sequence order.
func (l *PointList) Pairs() []Pair {
	n := len(l.references)
	if len(l.targets) < n {
		n = len(l.targets)
	}
	pairs := make([]Pair, n)
	for i := 0; i < n; i++ {
		pairs[i] = Pair{Reference: l.references[i], Target: l.targets[i]}
	}
	return pairs
}

// Pending returns the indices of half-completed pairs: a reference
// without its target yet, or a target without its reference. Pending
// corrections are never applied and never silently dropped; callers must
// surface them to the operator.
func (l *PointList) Pending() []int {
	nr, nt := len(l.references), len(l.targets)
	lo, hi := nr, nt
	if nt < nr {
		lo, hi = nt, nr
	}
	pending := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		pending = append(pending, i)
	}
	return pending
}

// RemovePair removes the pair (or half-pair) at the given sequence
// index, shifting later pairs down.
func (l *PointList) RemovePair(i int) error {
	if i < 0 || i >= l.Len() {
		return fmt.Errorf("pair index %d out of range [0,%d)", i, l.Len())
	}
	if i < len(l.references) {
		l.references = append(l.references[:i], l.references[i+1:]...)
	}
	if i < len(l.targets) {
		l.targets = append(l.targets[:i], l.targets[i+1:]...)
	}
	return nil
}

// Clear removes every point.
func (l *PointList) Clear() {
	l.references = l.references[:0]
	l.targets = l.targets[:0]
}
