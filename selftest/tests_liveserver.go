package selftest

import (
	"fmt"
	"io"
	"net/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isotx/isotx/liveserver"
	"github.com/isotx/isotx/registry"
)

func DoLiveServerTests(t *T) {
	helloHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello")
	})

	t.Run("an OS-assigned port is resolved before tests run", func(t *T) {
		srv := liveserver.New(liveserver.Config{Handler: helloHandler, Logger: t.DebugLogger()})
		require.NoError(t, srv.StartAndWait())
		t.Cleanup(srv.Terminate)

		require.NotZero(t, srv.Port())
		resp, err := http.Get(srv.URL() + "/")
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, "hello", string(body))
	})

	t.Run("a bind failure surfaces where the tests run", func(t *T) {
		first := liveserver.New(liveserver.Config{Handler: helloHandler, Logger: t.DebugLogger()})
		require.NoError(t, first.StartAndWait())
		t.Cleanup(first.Terminate)

		second := liveserver.New(liveserver.Config{
			Port:    first.Port(),
			Handler: helloHandler,
			Logger:  t.DebugLogger(),
		})
		err := second.StartAndWait()
		require.Error(t, err, "binding an occupied port must fail the caller, not hang it")
		assert.Equal(t, liveserver.StateFailed, second.State())
		second.Terminate()
	})

	t.Run("terminate is idempotent", func(t *T) {
		srv := liveserver.New(liveserver.Config{Handler: helloHandler, Logger: t.DebugLogger()})
		require.NoError(t, srv.StartAndWait())
		srv.Terminate()
		srv.Terminate()
		assert.Equal(t, liveserver.StateStopped, srv.State())

		_, err := http.Get(srv.URL() + "/")
		assert.Error(t, err, "a terminated server must not accept connections")
	})

	t.Run("shared connection flags revert when the server stops", func(t *T) {
		reg := t.NewRegistry(map[string]registry.Database{"default": {DSN: ":memory:"}})
		require.NoError(t, reg.Connect("default"))

		srv := liveserver.New(liveserver.Config{
			Handler:       helloHandler,
			SharedAliases: []string{"default"},
			Registry:      reg,
			Logger:        t.DebugLogger(),
		})
		require.NoError(t, srv.StartAndWait())
		assert.True(t, reg.IsShareable("default"))

		srv.Terminate()
		assert.False(t, reg.IsShareable("default"))
	})

	t.Run("handlers can read the class's stores through a shared connection", func(t *T) {
		reg, loader := t.NewSeededRegistry(map[string]registry.Database{
			"default": {DSN: ":memory:"},
		})
		require.NoError(t, loader.LoadFixtures([]string{"seed"}, "default"))

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n, err := reg.QueryInt("default", "SELECT count(*) FROM notes")
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			fmt.Fprintf(w, "%d", n)
		})
		srv := liveserver.New(liveserver.Config{
			Handler:       handler,
			SharedAliases: []string{"default"},
			Registry:      reg,
			Logger:        t.DebugLogger(),
		})
		require.NoError(t, srv.StartAndWait())
		t.Cleanup(srv.Terminate)

		resp, err := http.Get(srv.URL() + "/count")
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, "1", string(body))
	})
}
