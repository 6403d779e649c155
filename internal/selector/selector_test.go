package selector

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/embano1/transcribe/internal/errors"
	"github.com/embano1/transcribe/internal/logger"
	"github.com/embano1/transcribe/internal/types"
)

type stubBackend struct {
	method    types.Method
	available bool
	probes    int
}

func (s *stubBackend) Method() types.Method { return s.method }

func (s *stubBackend) Available(context.Context, *types.Request) error {
	s.probes++
	if s.available {
		return nil
	}
	return fmt.Errorf("%s is down", s.method)
}

func (s *stubBackend) Transcribe(context.Context, *types.Request) (*types.Result, error) {
	return types.Succeeded(s.method, "ok", "en", nil), nil
}

func stubs(local, docker, api bool) []*stubBackend {
	return []*stubBackend{
		{method: types.MethodLocal, available: local},
		{method: types.MethodDocker, available: docker},
		{method: types.MethodAPI, available: api},
	}
}

func newSelector(bs []*stubBackend) *Selector {
	return New(logger.Nop(), bs[0], bs[1], bs[2])
}

func request(t *testing.T, m types.Method) *types.Request {
	t.Helper()
	r, err := types.NewRequest(types.Options{AudioPath: "a.wav", Method: m})
	require.NoError(t, err)
	return r
}

func TestAutoPicksHighestPriorityAvailable(t *testing.T) {
	for mask := 0; mask < 8; mask++ {
		local, docker, api := mask&4 != 0, mask&2 != 0, mask&1 != 0
		t.Run(fmt.Sprintf("local=%v,docker=%v,api=%v", local, docker, api), func(t *testing.T) {
			bs := stubs(local, docker, api)
			b, err := newSelector(bs).Select(context.Background(), request(t, types.MethodAuto))

			var want types.Method
			switch {
			case local:
				want = types.MethodLocal
			case docker:
				want = types.MethodDocker
			case api:
				want = types.MethodAPI
			}

			if want == "" {
				require.Error(t, err)
				assert.Equal(t, apperrors.KindEnvironment, apperrors.KindOf(err))
				for _, s := range bs {
					assert.Equal(t, 1, s.probes)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, want, b.Method())
		})
	}
}

func TestProbingStopsAtFirstAvailable(t *testing.T) {
	bs := stubs(false, true, true)
	_, err := newSelector(bs).Select(context.Background(), request(t, types.MethodAuto))
	require.NoError(t, err)
	assert.Equal(t, 1, bs[0].probes)
	assert.Equal(t, 1, bs[1].probes)
	assert.Equal(t, 0, bs[2].probes)
}

func TestForcedMethodDoesNotProbe(t *testing.T) {
	for _, m := range []types.Method{types.MethodLocal, types.MethodDocker, types.MethodAPI} {
		t.Run(string(m), func(t *testing.T) {
			bs := stubs(false, false, false)
			b, err := newSelector(bs).Select(context.Background(), request(t, m))
			require.NoError(t, err)
			assert.Equal(t, m, b.Method())
			for _, s := range bs {
				assert.Zero(t, s.probes)
			}
		})
	}
}

func TestExhaustionNamesEveryProbe(t *testing.T) {
	_, err := newSelector(stubs(false, false, false)).Select(context.Background(), request(t, types.MethodAuto))
	require.Error(t, err)
	e, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Contains(t, e.Message, "local: local is down")
	assert.Contains(t, e.Message, "docker: docker is down")
	assert.Contains(t, e.Message, "api: api is down")

	probes, ok := e.Details["probes"].(map[string]string)
	require.True(t, ok)
	assert.Len(t, probes, 3)
}

func TestAvailabilityIsNotCached(t *testing.T) {
	bs := stubs(false, false, false)
	sel := newSelector(bs)

	_, err := sel.Select(context.Background(), request(t, types.MethodAuto))
	require.Error(t, err)

	bs[2].available = true
	b, err := sel.Select(context.Background(), request(t, types.MethodAuto))
	require.NoError(t, err)
	assert.Equal(t, types.MethodAPI, b.Method())
}

func TestProbeReportsAll(t *testing.T) {
	bs := stubs(true, false, true)
	got := newSelector(bs).Probe(context.Background(), request(t, types.MethodAuto))
	require.Len(t, got, 3)
	assert.True(t, got[0].Available)
	assert.False(t, got[1].Available)
	assert.Equal(t, "docker is down", got[1].Reason)
	assert.True(t, got[2].Available)
}

func TestUnconfiguredBackend(t *testing.T) {
	sel := New(logger.Nop(), &stubBackend{method: types.MethodAPI, available: true})

	_, err := sel.Select(context.Background(), request(t, types.MethodDocker))
	assert.Equal(t, apperrors.KindEnvironment, apperrors.KindOf(err))

	b, err := sel.Select(context.Background(), request(t, types.MethodAuto))
	require.NoError(t, err)
	assert.Equal(t, types.MethodAPI, b.Method())
	assert.False(t, errors.Is(err, context.Canceled))
}
