package download

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickseven/quranic-soul/catalog"
	"github.com/rickseven/quranic-soul/sentry_helper"
	"github.com/rickseven/quranic-soul/store"
)

func TestTrackIDFromFileName(t *testing.T) {
	tests := []struct {
		name   string
		wantID int64
		wantOK bool
	}{
		{"42.mp3", 42, true},
		{"7.mp3", 7, true},
		{"42.mp3.part", 0, false},
		{"cover.jpg", 0, false},
		{"notanumber.mp3", 0, false},
		{".mp3", 0, false},
	}

	for _, tt := range tests {
		id, ok := trackIDFromFileName(tt.name)
		assert.Equal(t, tt.wantOK, ok, tt.name)
		if tt.wantOK {
			assert.Equal(t, tt.wantID, id, tt.name)
		}
	}
}

func TestWatcherClearsFlagOnExternalRemoval(t *testing.T) {
	log := testLogger()
	sentry := sentry_helper.NewSentryHelper(false, log)

	st, err := store.Open(t.TempDir(), log)
	require.NoError(t, err)
	defer st.Close()

	client := catalog.NewClient("http://127.0.0.1:0", time.Second, st, log, sentry)
	cat := catalog.NewService(client, st, log)

	dir := t.TempDir()
	path := filepath.Join(dir, "42.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	require.NoError(t, st.SetDownloaded(42, true))

	w, err := NewWatcher(dir, st, cat, log, sentry)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		ids, idsErr := st.DownloadedIDs()
		return idsErr == nil && !ids[42]
	}, 2*time.Second, 10*time.Millisecond, "external removal must clear the downloaded flag")
}

func TestWatcherIgnoresForeignFiles(t *testing.T) {
	log := testLogger()
	sentry := sentry_helper.NewSentryHelper(false, log)

	st, err := store.Open(t.TempDir(), log)
	require.NoError(t, err)
	defer st.Close()

	client := catalog.NewClient("http://127.0.0.1:0", time.Second, st, log, sentry)
	cat := catalog.NewService(client, st, log)

	dir := t.TempDir()
	require.NoError(t, st.SetDownloaded(42, true))

	w, err := NewWatcher(dir, st, cat, log, sentry)
	require.NoError(t, err)
	defer w.Close()

	foreign := filepath.Join(dir, "cover.jpg")
	require.NoError(t, os.WriteFile(foreign, []byte("img"), 0o644))
	require.NoError(t, os.Remove(foreign))

	time.Sleep(100 * time.Millisecond)
	ids, err := st.DownloadedIDs()
	require.NoError(t, err)
	assert.True(t, ids[42], "foreign file events must not touch flags")
}
