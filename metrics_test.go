package conduit

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	b := NewBuilder(Config{})
	HandleFunc(b, "ping", func(_ context.Context, _ *Conn, m pingMsg) (pongMsg, error) {
		return pongMsg{Timestamp: m.Timestamp}, nil
	})
	HandleProcFunc(b, "boom", func(context.Context, *Conn, pingMsg) error {
		return errors.New("nope")
	})
	reg, err := b.Build()
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	m := NewMetrics(promReg)
	d := NewDispatcher(reg, NewLocalTransport(), WithMetrics(m))

	ctx := context.Background()
	c := openTestConn(d, "c1", &frameSink{})

	require.NoError(t, d.Dispatch(ctx, c, []byte(`{"action":"ping"}`)))
	require.NoError(t, d.Dispatch(ctx, c, []byte(`{"action":"ping"}`)))
	require.NoError(t, d.Dispatch(ctx, c, []byte(`{"action":"boom"}`)))
	require.NoError(t, d.Dispatch(ctx, c, []byte(`{"action":"bogus"}`)))

	dispatched := m.dispatched.WithLabelValues("ping", DirectionClient.String())
	require.Equal(t, float64(2), testutil.ToFloat64(dispatched))
	require.Equal(t, float64(1), testutil.ToFloat64(m.failures.WithLabelValues("boom")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.validationErrors))

	// Frames outside Open count as dropped.
	closed := d.NewConn("c2", (&frameSink{}).out)
	require.NoError(t, d.Dispatch(ctx, closed, []byte(`{"action":"ping"}`)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.dropped))
}

func TestNewMetrics_NilRegisterer(t *testing.T) {
	m := NewMetrics(nil)
	require.NotNil(t, m)

	// Collectors work without registration.
	m.validationErrors.Inc()
	require.Equal(t, float64(1), testutil.ToFloat64(m.validationErrors))
}
