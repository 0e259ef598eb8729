package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/apierrors"
	"github.com/freva-org/freva-rest/internal/common"
)

func newTestCache(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewServiceWithClient(client, arbor.NewLogger()), mr
}

func TestGetMissingKey(t *testing.T) {
	svc, _ := newTestCache(t)
	_, err := svc.Get(context.Background(), "missing")
	assert.True(t, apierrors.IsKind(err, apierrors.KindNotFound))
}

func TestSetGetRoundTrip(t *testing.T) {
	svc, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, svc.Set(ctx, "k", []byte("v"), time.Minute))
	val, err := svc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
}

func TestSetWithTTLExpires(t *testing.T) {
	svc, mr := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, svc.Set(ctx, "k", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)
	_, err := svc.Get(ctx, "k")
	assert.True(t, apierrors.IsKind(err, apierrors.KindNotFound))
}

func TestSetNX(t *testing.T) {
	svc, _ := newTestCache(t)
	ctx := context.Background()

	created, err := svc.SetNX(ctx, "k", []byte("first"), 0)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.SetNX(ctx, "k", []byte("second"), 0)
	require.NoError(t, err)
	assert.False(t, created)

	val, err := svc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), val)
}

func TestCompareAndSwap(t *testing.T) {
	svc, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, svc.Set(ctx, "k", []byte("1"), 0))

	err := svc.CompareAndSwap(ctx, "k", func(old []byte) ([]byte, error) {
		assert.Equal(t, []byte("1"), old)
		return []byte("2"), nil
	}, 0)
	require.NoError(t, err)

	val, err := svc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), val)
}

func TestCompareAndSwapAbort(t *testing.T) {
	svc, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, svc.Set(ctx, "k", []byte("1"), 0))

	err := svc.CompareAndSwap(ctx, "k", func(old []byte) ([]byte, error) {
		return nil, apierrors.New(apierrors.KindConflict, "no change")
	}, 0)
	assert.True(t, apierrors.IsKind(err, apierrors.KindConflict))
}

func TestKeysPattern(t *testing.T) {
	svc, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, svc.Set(ctx, "zarr:a:status", []byte("x"), 0))
	require.NoError(t, svc.Set(ctx, "zarr:b:status", []byte("y"), 0))
	require.NoError(t, svc.Set(ctx, "other", []byte("z"), 0))

	keys, err := svc.Keys(ctx, "zarr:*:status")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"zarr:a:status", "zarr:b:status"}, keys)
}

func TestBuildOptionsParsesURL(t *testing.T) {
	opts, err := buildOptions(&common.RedisConfig{Host: "redis://user:pw@cachehost:6380"})
	require.NoError(t, err)
	assert.Equal(t, "cachehost:6380", opts.Addr)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "pw", opts.Password)
	assert.Nil(t, opts.TLSConfig)
}

func TestBuildOptionsTLSScheme(t *testing.T) {
	opts, err := buildOptions(&common.RedisConfig{Host: "rediss://cachehost:6380"})
	require.NoError(t, err)
	assert.NotNil(t, opts.TLSConfig)
}
