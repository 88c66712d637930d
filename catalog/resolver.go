package catalog

import (
	"context"
	"os"
	"path/filepath"
)

// SourceResolver picks the playable source for a track: the downloaded local
// file when it is actually present, otherwise the remote locator.
type SourceResolver struct {
	downloadDir  string
	mediaBaseURL string
}

// NewSourceResolver creates a resolver.
func NewSourceResolver(downloadDir, mediaBaseURL string) *SourceResolver {
	return &SourceResolver{
		downloadDir:  downloadDir,
		mediaBaseURL: mediaBaseURL,
	}
}

// Resolve returns the source location and whether it is a local file. The
// downloaded flag alone is not trusted; the file must exist on disk.
func (r *SourceResolver) Resolve(ctx context.Context, t Track) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	if t.Downloaded {
		local := filepath.Join(r.downloadDir, t.LocalFileName())
		if info, err := os.Stat(local); err == nil && !info.IsDir() {
			return local, true, nil
		}
	}

	remote, err := t.RemoteURL(r.mediaBaseURL)
	if err != nil {
		return "", false, err
	}
	return remote, false, nil
}
