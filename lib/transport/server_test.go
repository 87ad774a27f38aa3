package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(_ context.Context, rwc io.ReadWriteCloser, _ string) {
	_, _ = io.Copy(rwc, rwc)
}

func roundTrip(t *testing.T, rwc io.ReadWriter, msg string) {
	t.Helper()
	_, err := rwc.Write([]byte(msg))
	require.NoError(t, err)

	buf := make([]byte, len(msg))
	_, err = io.ReadFull(rwc, buf)
	require.NoError(t, err)
	assert.Equal(t, msg, string(buf))
}

func TestWebSocketEcho(t *testing.T) {
	srv := NewServer(echo)
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()

	url := "ws" + strings.TrimPrefix(hs.URL, "http") + WirePath
	rwc, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer rwc.Close()

	roundTrip(t, rwc, "hello")
	roundTrip(t, rwc, "again")
	assert.Equal(t, 1, srv.ActiveSessionCount())
}

func TestWebSocketDefaultPath(t *testing.T) {
	srv := NewServer(echo)
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()

	rwc, err := Dial(context.Background(), "ws"+strings.TrimPrefix(hs.URL, "http"))
	require.NoError(t, err)
	defer rwc.Close()
	roundTrip(t, rwc, "path defaults to /wire")
}

func TestTCPEcho(t *testing.T) {
	srv := NewServer(echo)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeTCP(ctx, ln) }()

	for _, addr := range []string{ln.Addr().String(), "tcp://" + ln.Addr().String()} {
		rwc, err := Dial(context.Background(), addr)
		require.NoError(t, err)
		roundTrip(t, rwc, "tcp")
		require.NoError(t, rwc.Close())
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeTCP did not stop")
	}
}

func TestConnectionLimit(t *testing.T) {
	release := make(chan struct{})
	srv := NewServer(func(ctx context.Context, rwc io.ReadWriteCloser, _ string) {
		select {
		case <-release:
		case <-ctx.Done():
		}
	}, WithMaxConnections(1))
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()
	defer close(release)

	url := "ws" + strings.TrimPrefix(hs.URL, "http") + WirePath
	first, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer first.Close()

	require.Eventually(t, func() bool { return srv.ActiveSessionCount() == 1 }, time.Second, 10*time.Millisecond)
	_, err = Dial(context.Background(), url)
	assert.Error(t, err)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "wire_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := NewServer(echo, WithGatherer(reg))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MetricsPath, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wire_test_total 1")
}

func TestMetricsEndpointDisabled(t *testing.T) {
	srv := NewServer(echo)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsOnlyServer(t *testing.T) {
	srv := NewServer(nil, WithWirePath(""), WithGatherer(prometheus.NewRegistry()))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, WirePath, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDialUnsupportedScheme(t *testing.T) {
	_, err := Dial(context.Background(), "udp://127.0.0.1:1")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}
