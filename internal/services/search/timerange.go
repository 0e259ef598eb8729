package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/interfaces"
)

// partialLayouts are the timestamp precisions accepted in a time spec, most
// precise first. A partial timestamp parses to the start of its period.
var partialLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15",
	"2006-01-02",
	"2006-01",
	"2006",
}

func parsePartial(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range partialLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apierrors.InvalidInput("invalid timestamp %q", s)
}

// parseTimeSpec parses "<iso>" or "<iso> to <iso>" into a half-open interval
// [start, end). A single timestamp is the instantaneous query [t, t].
func parseTimeSpec(spec string) (start, end time.Time, instant bool, err error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return time.Time{}, time.Time{}, false, apierrors.InvalidInput("empty time specification")
	}
	parts := strings.SplitN(spec, " to ", 2)
	if len(parts) == 1 {
		// "2016-09 to" style fragments also land here after trimming.
		t, perr := parsePartial(parts[0])
		if perr != nil {
			return time.Time{}, time.Time{}, false, perr
		}
		return t, t, true, nil
	}
	start, err = parsePartial(parts[0])
	if err != nil {
		return
	}
	end, err = parsePartial(parts[1])
	if err != nil {
		return
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, false, apierrors.InvalidInput("time range end %q precedes start %q", parts[1], parts[0])
	}
	return start, end, false, nil
}

const solrTimeLayout = "2006-01-02T15:04:05Z"

// timeFilter renders the time spec as a Solr DateRangeField filter.
// Flexible selects documents whose interval intersects the query interval;
// strict selects documents contained within it.
func timeFilter(spec, timeSelect string) (string, error) {
	start, end, instant, err := parseTimeSpec(spec)
	if err != nil {
		return "", err
	}

	op := "Intersects"
	switch timeSelect {
	case "", interfaces.TimeSelectFlexible:
	case interfaces.TimeSelectStrict:
		op = "Within"
	default:
		return "", apierrors.InvalidInput("invalid time_select %q (expected flexible or strict)", timeSelect)
	}

	var rangeExpr string
	if instant {
		rangeExpr = fmt.Sprintf("[%s TO %s]", start.Format(solrTimeLayout), end.Format(solrTimeLayout))
	} else {
		// Half-open interval: exclusive upper bound.
		rangeExpr = fmt.Sprintf("[%s TO %s}", start.Format(solrTimeLayout), end.Format(solrTimeLayout))
	}
	return fmt.Sprintf("{!field f=time op=%s}%s", op, rangeExpr), nil
}
