package catalog

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

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

const catalogPayload = `[
	{"id": 1, "name": "Al-Fatihah", "narrator": "Narrator One", "duration": 87, "audio_path": "1.mp3"},
	{"id": 2, "name": "Al-Baqarah", "narrator": "Narrator One", "duration": 7221, "audio_path": "2.mp3", "recommended": true},
	{"id": 3, "name": "Al-Imran", "narrator": "Narrator Two", "duration": 4123, "audio_path": "3.mp3"},
	{"id": 4, "name": "An-Nisa", "narrator": "Narrator Two", "duration": 4451, "audio_path": "4.mp3", "recommended": true},
	{"id": 5, "name": "Al-Maidah", "narrator": "Narrator Two", "duration": 3333, "audio_path": "5.mp3"}
]`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestService(t *testing.T, endpoint string, st *store.Store) *Service {
	t.Helper()
	log := testLogger()
	sentry := sentry_helper.NewSentryHelper(false, log)
	client := NewClient(endpoint, 2*time.Second, st, log, sentry)
	return NewService(client, st, log)
}

func TestRefreshPreservesSourceOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(catalogPayload))
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL, openTestStore(t))
	require.NoError(t, svc.Refresh(context.Background()))

	all := svc.All()
	require.Len(t, all, 5)
	for i, want := range []int64{1, 2, 3, 4, 5} {
		assert.Equal(t, want, all[i].ID)
	}
}

func TestRecommendedViewFiltersInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(catalogPayload))
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL, openTestStore(t))
	require.NoError(t, svc.Refresh(context.Background()))

	rec := svc.Recommended()
	require.Len(t, rec, 2)
	assert.Equal(t, int64(2), rec[0].ID)
	assert.Equal(t, int64(4), rec[1].ID)
}

func TestRecommendedViewMayBeEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id": 1, "name": "Only", "narrator": "N", "duration": 10, "audio_path": "1.mp3"}]`))
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL, openTestStore(t))
	require.NoError(t, svc.Refresh(context.Background()))

	assert.Empty(t, svc.Recommended())
	assert.Len(t, svc.All(), 1)
}

func TestRefreshMergesPersistedFlags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(catalogPayload))
	}))
	defer srv.Close()

	st := openTestStore(t)
	require.NoError(t, st.SetFavorite(3, true))
	require.NoError(t, st.SetDownloaded(5, true))

	svc := newTestService(t, srv.URL, st)
	require.NoError(t, svc.Refresh(context.Background()))

	track3, ok := svc.Get(3)
	require.True(t, ok)
	assert.True(t, track3.Favorite)
	assert.False(t, track3.Downloaded)

	track5, ok := svc.Get(5)
	require.True(t, ok)
	assert.True(t, track5.Downloaded)

	favs := svc.Favorites()
	require.Len(t, favs, 1)
	assert.Equal(t, int64(3), favs[0].ID)
}

func TestSetFavoritePersistsAcrossRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(catalogPayload))
	}))
	defer srv.Close()

	st := openTestStore(t)
	svc := newTestService(t, srv.URL, st)
	require.NoError(t, svc.Refresh(context.Background()))

	require.NoError(t, svc.SetFavorite(2, true))

	// Visible immediately in the snapshot.
	track, _ := svc.Get(2)
	assert.True(t, track.Favorite)

	// And survives a full refresh from the remote payload.
	require.NoError(t, svc.Refresh(context.Background()))
	track, _ = svc.Get(2)
	assert.True(t, track.Favorite)
}

func TestFetchFallsBackToCachedPayload(t *testing.T) {
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(catalogPayload))
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL, openTestStore(t))
	require.NoError(t, svc.Refresh(context.Background()))

	// The endpoint goes away; the cached payload still serves the catalog.
	failing.Store(true)
	require.NoError(t, svc.Refresh(context.Background()))
	assert.Len(t, svc.All(), 5)
}

func TestFetchFailsWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL, openTestStore(t))
	assert.Error(t, svc.Refresh(context.Background()))
	assert.Empty(t, svc.All())
}

func TestRemoteURLJoinsBaseAndPath(t *testing.T) {
	track := Track{ID: 1, AudioPath: "reciter/001.mp3"}

	u, err := track.RemoteURL("https://cdn.example.com/audio")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/audio/reciter/001.mp3", u)

	u, err = track.RemoteURL("https://cdn.example.com/audio/")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/audio/reciter/001.mp3", u)
}

func TestResolvePrefersExistingLocalFile(t *testing.T) {
	dir := t.TempDir()
	track := Track{ID: 9, AudioPath: "9.mp3", Downloaded: true}

	r := NewSourceResolver(dir, "https://cdn.example.com/audio")

	// Flag set but file missing: remote wins.
	loc, local, err := r.Resolve(context.Background(), track)
	require.NoError(t, err)
	assert.False(t, local)
	assert.Equal(t, "https://cdn.example.com/audio/9.mp3", loc)

	// File present: local wins.
	path := filepath.Join(dir, track.LocalFileName())
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	loc, local, err = r.Resolve(context.Background(), track)
	require.NoError(t, err)
	assert.True(t, local)
	assert.Equal(t, path, loc)
}

func TestResolveIgnoresLocalFileWithoutFlag(t *testing.T) {
	dir := t.TempDir()
	track := Track{ID: 9, AudioPath: "9.mp3"}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "9.mp3"), []byte("audio"), 0o644))

	r := NewSourceResolver(dir, "https://cdn.example.com/audio")
	_, local, err := r.Resolve(context.Background(), track)
	require.NoError(t, err)
	assert.False(t, local)
}
