package download

import (
	"context"
	"fmt"
	"os"
)

// Marker tags a downloaded file with its network origin so platform security
// tooling can treat it as untrusted. Implementations are best-effort: when a
// platform marker fails, the gate falls back to a sidecar file.
type Marker interface {
	Mark(ctx context.Context, path, sourceURL string) error
}

// urlZoneInternet mirrors the conventional "downloaded from the internet"
// zone indicator understood by desktop security tooling.
const urlZoneInternet = 3

// sidecarSuffix names the fallback origin marker next to a quarantined file.
const sidecarSuffix = ".origin"

// SidecarMarker writes a plain-file origin marker. Works on any platform and
// doubles as the fallback when a platform marker errors out.
type SidecarMarker struct{}

// NewSidecarMarker creates the filesystem fallback marker.
func NewSidecarMarker() *SidecarMarker {
	return &SidecarMarker{}
}

// Mark writes "<path>.origin" containing the zone indicator and source URL.
func (m *SidecarMarker) Mark(ctx context.Context, path, sourceURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	content := fmt.Sprintf("[ZoneTransfer]\nZoneId=%d\nHostUrl=%s\n", urlZoneInternet, sourceURL)
	if err := os.WriteFile(path+sidecarSuffix, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write origin sidecar: %w", err)
	}
	return nil
}

// sidecarPath returns the fallback marker path for a quarantined file.
func sidecarPath(path string) string {
	return path + sidecarSuffix
}
