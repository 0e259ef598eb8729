package search

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/interfaces"
)

// bbox is a WGS-84 bounding box. minx > maxx marks an antimeridian crossing.
type bbox struct {
	minX, minY, maxX, maxY float64
}

func parseBbox(spec string) (bbox, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 4 {
		return bbox{}, apierrors.InvalidInput("invalid bbox %q (expected minx,miny,maxx,maxy)", spec)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return bbox{}, apierrors.InvalidInput("invalid bbox coordinate %q", p)
		}
		vals[i] = v
	}
	b := bbox{minX: vals[0], minY: vals[1], maxX: vals[2], maxY: vals[3]}
	if b.minY > b.maxY {
		return bbox{}, apierrors.InvalidInput("invalid bbox %q: miny exceeds maxy", spec)
	}
	if b.minY < -90 || b.maxY > 90 || b.minX < -180 || b.minX > 180 || b.maxX < -180 || b.maxX > 180 {
		return bbox{}, apierrors.InvalidInput("bbox %q outside WGS-84 bounds", spec)
	}
	return b, nil
}

// crossesAntimeridian reports whether the box wraps at 180 degrees.
func (b bbox) crossesAntimeridian() bool {
	return b.minX > b.maxX
}

// split cuts an antimeridian-crossing box into two conventional boxes.
func (b bbox) split() []bbox {
	if !b.crossesAntimeridian() {
		return []bbox{b}
	}
	return []bbox{
		{minX: b.minX, minY: b.minY, maxX: 180, maxY: b.maxY},
		{minX: -180, minY: b.minY, maxX: b.maxX, maxY: b.maxY},
	}
}

// envelope renders the Solr spatial ENVELOPE(minX, maxX, maxY, minY) form.
func (b bbox) envelope() string {
	return fmt.Sprintf("ENVELOPE(%g,%g,%g,%g)", b.minX, b.maxX, b.maxY, b.minY)
}

// bboxFilter renders the bbox spec as a Solr spatial filter. Crossing boxes
// are split into two sub-queries OR-ed together.
func bboxFilter(spec, bboxSelect string) (string, error) {
	b, err := parseBbox(spec)
	if err != nil {
		return "", err
	}

	op := "Intersects"
	switch bboxSelect {
	case "", interfaces.TimeSelectFlexible:
	case interfaces.TimeSelectStrict:
		op = "IsWithin"
	default:
		return "", apierrors.InvalidInput("invalid bbox_select %q (expected flexible or strict)", bboxSelect)
	}

	boxes := b.split()
	clauses := make([]string, 0, len(boxes))
	for _, sub := range boxes {
		clauses = append(clauses, fmt.Sprintf("{!field f=bbox}%s(%s)", op, sub.envelope()))
	}
	if len(clauses) == 1 {
		return clauses[0], nil
	}
	// Solr cannot OR two local-params filters in one fq; fall back to the
	// lucene-syntax field query form for the split pair.
	parts := make([]string, 0, 2)
	for _, sub := range boxes {
		parts = append(parts, fmt.Sprintf("bbox:\"%s(%s)\"", op, sub.envelope()))
	}
	return strings.Join(parts, " OR "), nil
}
