package liveserver

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isotx/isotx/registry"
)

func TestPortZeroResolvesToRealPort(t *testing.T) {
	s := New(Config{Port: 0, Handler: httphelpers.HandlerWithStatus(204)})
	require.NoError(t, s.StartAndWait())
	defer s.Terminate()

	assert.Greater(t, s.Port(), 0)
	assert.Equal(t, StateReady, s.State())

	resp, err := http.Get(s.URL())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 204, resp.StatusCode)
}

func TestConcurrentServersNeverShareAPort(t *testing.T) {
	handler := httphelpers.HandlerWithStatus(200)
	s1 := New(Config{Port: 0, Handler: handler})
	s2 := New(Config{Port: 0, Handler: handler})
	require.NoError(t, s1.StartAndWait())
	defer s1.Terminate()
	require.NoError(t, s2.StartAndWait())
	defer s2.Terminate()

	assert.NotEqual(t, s1.Port(), s2.Port())
}

func TestBindFailureIsReturnedOnControllerSide(t *testing.T) {
	// Occupy a port, then ask a server to bind it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	s := New(Config{Port: port, Handler: httphelpers.HandlerWithStatus(200)})

	errCh := make(chan error, 1)
	go func() { errCh <- s.StartAndWait() }()
	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bind")
		assert.Equal(t, StateFailed, s.State())
	case <-time.After(5 * time.Second):
		t.Fatal("StartAndWait hung on a failing bind")
	}

	// Terminate on a server that never reached READY must not panic or hang.
	s.Terminate()
	assert.Equal(t, StateStopped, s.State())
}

func TestTerminateIsIdempotentAndJoins(t *testing.T) {
	requestDone := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(200)
		close(requestDone)
	})
	s := New(Config{Port: 0, Handler: handler})
	require.NoError(t, s.StartAndWait())

	go func() {
		resp, err := http.Get(s.URL())
		if err == nil {
			resp.Body.Close()
		}
	}()

	// Give the request time to reach the handler, then terminate: the
	// in-flight handler must have completed by the time Terminate returns.
	time.Sleep(30 * time.Millisecond)
	s.Terminate()
	select {
	case <-requestDone:
	default:
		t.Fatal("Terminate returned while a handler was still running")
	}

	s.Terminate() // second call is a no-op
	assert.Equal(t, StateStopped, s.State())
}

func TestTerminateWithoutStartIsSafe(t *testing.T) {
	s := New(Config{Port: 0})
	s.Terminate()
	assert.Equal(t, StateStopped, s.State())
}

func TestSharedConnectionFlagsArePaired(t *testing.T) {
	mock := registry.NewMockRegistry("default")
	s := New(Config{
		Port:          0,
		Handler:       httphelpers.HandlerWithStatus(200),
		SharedAliases: []string{"default"},
		Registry:      mock,
	})
	require.NoError(t, s.StartAndWait())
	assert.True(t, mock.IsShareable("default"))

	s.Terminate()
	assert.False(t, mock.IsShareable("default"))
}

func TestSharedFlagsRevertedWhenBindFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	mock := registry.NewMockRegistry("default")
	s := New(Config{
		Port:          ln.Addr().(*net.TCPAddr).Port,
		Handler:       httphelpers.HandlerWithStatus(200),
		SharedAliases: []string{"default"},
		Registry:      mock,
	})
	require.Error(t, s.StartAndWait())
	assert.False(t, mock.IsShareable("default"))
	s.Terminate()
}

func TestStaticResolverServesFilesAndFallsThrough(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "style.css"), []byte("body {}"), 0600))

	fallback, requests := httphelpers.RecordingHandler(httphelpers.HandlerWithStatus(418))
	s := New(Config{
		Port:         0,
		Handler:      fallback,
		StaticRoutes: map[string]string{"/static/": dir},
	})
	require.NoError(t, s.StartAndWait())
	defer s.Terminate()

	resp, err := http.Get(fmt.Sprintf("%s/static/style.css", s.URL()))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "body {}", string(body))

	resp, err = http.Get(fmt.Sprintf("%s/other", s.URL()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 418, resp.StatusCode)

	select {
	case req := <-requests:
		assert.Equal(t, "/other", req.Request.URL.Path)
	default:
		t.Fatal("fallback handler never saw the non-static request")
	}
}
