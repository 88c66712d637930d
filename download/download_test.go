package download

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rickseven/quranic-soul/catalog"
	"github.com/rickseven/quranic-soul/sentry_helper"
	"github.com/rickseven/quranic-soul/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/dgraph-io/badger/v4/y.(*WaterMark).process"),
		goleak.IgnoreTopFunction("github.com/golang/glog.(*loggingT).flushDaemon"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	manager *Manager
	store   *store.Store
	dir     string
}

func newTestEnv(t *testing.T, mediaBaseURL string) *testEnv {
	t.Helper()
	log := testLogger()
	sentry := sentry_helper.NewSentryHelper(false, log)

	st, err := store.Open(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	// The snapshot side of the catalog is irrelevant here; flag persistence
	// is asserted against the store directly.
	client := catalog.NewClient("http://127.0.0.1:0", time.Second, st, log, sentry)
	cat := catalog.NewService(client, st, log)

	dir := t.TempDir()
	m := NewManager(dir, mediaBaseURL, 5*time.Second, st, cat, log, sentry)
	return &testEnv{manager: m, store: st, dir: dir}
}

func testTrack() catalog.Track {
	return catalog.Track{ID: 42, Name: "Test", AudioPath: "42.mp3"}
}

func TestDownloadCompletesAndPersistsFlag(t *testing.T) {
	body := []byte("complete audio payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	env.manager.validate = func(string) error { return nil }

	id, err := env.manager.Start(testTrack())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	env.manager.Wait()

	data, err := os.ReadFile(filepath.Join(env.dir, "42.mp3"))
	require.NoError(t, err)
	assert.Equal(t, body, data)

	ids, err := env.store.DownloadedIDs()
	require.NoError(t, err)
	assert.True(t, ids[42])

	_, err = os.Stat(filepath.Join(env.dir, "42.mp3.part"))
	assert.True(t, os.IsNotExist(err), "partial file must be gone")
}

func TestSecondTransferRejectedWhileActive(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	env := newTestEnv(t, srv.URL)
	env.manager.validate = func(string) error { return nil }

	_, err := env.manager.Start(testTrack())
	require.NoError(t, err)

	_, err = env.manager.Start(catalog.Track{ID: 43, AudioPath: "43.mp3"})
	assert.ErrorIs(t, err, ErrTransferInProgress)

	require.NoError(t, env.manager.Cancel(42))
}

func TestCancelDiscardsPartialTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		_, _ = w.Write([]byte("some partial data"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	track := testTrack()

	_, err := env.manager.Start(track)
	require.NoError(t, err)

	// Give the transfer a moment to write partial data.
	require.Eventually(t, func() bool {
		_, active := env.manager.Progress(track.ID)
		return active
	}, time.Second, 2*time.Millisecond)

	require.NoError(t, env.manager.Cancel(track.ID))

	// Nothing may remain: no final file, no partial file, no flag.
	_, err = os.Stat(filepath.Join(env.dir, "42.mp3"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(env.dir, "42.mp3.part"))
	assert.True(t, os.IsNotExist(err))

	ids, err := env.store.DownloadedIDs()
	require.NoError(t, err)
	assert.False(t, ids[42])
}

func TestCancelWithoutTransfer(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:0")
	assert.ErrorIs(t, env.manager.Cancel(42), ErrNoActiveTransfer)
}

func TestFailedValidationDiscardsFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not really audio"))
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	env.manager.validate = func(string) error { return errors.New("not an mp3 stream") }

	_, err := env.manager.Start(testTrack())
	require.NoError(t, err)
	env.manager.Wait()

	_, err = os.Stat(filepath.Join(env.dir, "42.mp3"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(env.dir, "42.mp3.part"))
	assert.True(t, os.IsNotExist(err))

	ids, err := env.store.DownloadedIDs()
	require.NoError(t, err)
	assert.False(t, ids[42])
}

func TestDefaultValidatorRejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("definitely not an mp3"))
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	// Keep the default playability validator.

	_, err := env.manager.Start(testTrack())
	require.NoError(t, err)
	env.manager.Wait()

	_, err = os.Stat(filepath.Join(env.dir, "42.mp3"))
	assert.True(t, os.IsNotExist(err), "garbage must never be recorded as downloaded")
}

func TestIncompleteBodyDiscarded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Announce more than is delivered: the connection just ends.
		w.Header().Set("Content-Length", "500000")
		_, _ = w.Write([]byte("short"))
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	env.manager.validate = func(string) error { return nil }

	_, err := env.manager.Start(testTrack())
	require.NoError(t, err)
	env.manager.Wait()

	_, err = os.Stat(filepath.Join(env.dir, "42.mp3"))
	assert.True(t, os.IsNotExist(err))

	ids, err := env.store.DownloadedIDs()
	require.NoError(t, err)
	assert.False(t, ids[42])
}

func TestServerErrorFailsTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	_, err := env.manager.Start(testTrack())
	require.NoError(t, err)
	env.manager.Wait()

	_, err = os.Stat(filepath.Join(env.dir, "42.mp3"))
	assert.True(t, os.IsNotExist(err))
}

func TestProgressReportsFraction(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write(make([]byte, 50))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write(make([]byte, 50))
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	env.manager.validate = func(string) error { return nil }
	track := testTrack()

	_, err := env.manager.Start(track)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		progress, active := env.manager.Progress(track.ID)
		return active && progress >= 0.5
	}, time.Second, 2*time.Millisecond)

	close(release)
	env.manager.Wait()

	_, active := env.manager.Progress(track.ID)
	assert.False(t, active, "progress is transient and gone after completion")
}

func TestRemoveDeletesFileAndFlag(t *testing.T) {
	env := newTestEnv(t, "http://127.0.0.1:0")
	track := testTrack()

	path := filepath.Join(env.dir, track.LocalFileName())
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	require.NoError(t, env.store.SetDownloaded(track.ID, true))

	require.NoError(t, env.manager.Remove(track))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	ids, err := env.store.DownloadedIDs()
	require.NoError(t, err)
	assert.False(t, ids[track.ID])
}

func TestCloseAbortsActiveTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	_, err := env.manager.Start(testTrack())
	require.NoError(t, err)

	env.manager.Close()

	_, active := env.manager.Progress(42)
	assert.False(t, active)
}
