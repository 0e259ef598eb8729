package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freva-org/freva-rest/internal/apierrors"
)

func TestParseTimeSpecRange(t *testing.T) {
	start, end, instant, err := parseTimeSpec("2016-09-02T22:15 to 2016-10")
	require.NoError(t, err)
	assert.False(t, instant)
	assert.Equal(t, time.Date(2016, 9, 2, 22, 15, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2016, 10, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestParseTimeSpecSingle(t *testing.T) {
	start, end, instant, err := parseTimeSpec("2016")
	require.NoError(t, err)
	assert.True(t, instant)
	assert.Equal(t, start, end)
	assert.Equal(t, time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC), start)
}

func TestParseTimeSpecInvalid(t *testing.T) {
	for _, spec := range []string{"", "yesterday", "2016-13", "2017 to 2016"} {
		_, _, _, err := parseTimeSpec(spec)
		assert.True(t, apierrors.IsKind(err, apierrors.KindInvalidInput), spec)
	}
}

func TestTimeFilterFlexible(t *testing.T) {
	fq, err := timeFilter("2016-09-02T22:15 to 2016-10", "")
	require.NoError(t, err)
	assert.Equal(t, "{!field f=time op=Intersects}[2016-09-02T22:15:00Z TO 2016-10-01T00:00:00Z}", fq)
}

func TestTimeFilterStrict(t *testing.T) {
	fq, err := timeFilter("2016-09-02T22:15 to 2016-10", "strict")
	require.NoError(t, err)
	assert.Equal(t, "{!field f=time op=Within}[2016-09-02T22:15:00Z TO 2016-10-01T00:00:00Z}", fq)
}

func TestTimeFilterInstant(t *testing.T) {
	fq, err := timeFilter("2000-01-01", "flexible")
	require.NoError(t, err)
	assert.Equal(t, "{!field f=time op=Intersects}[2000-01-01T00:00:00Z TO 2000-01-01T00:00:00Z]", fq)
}

func TestTimeFilterBadSelect(t *testing.T) {
	_, err := timeFilter("2000", "fuzzy")
	assert.True(t, apierrors.IsKind(err, apierrors.KindInvalidInput))
}
