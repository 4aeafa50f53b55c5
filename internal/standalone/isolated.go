package standalone

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrIsolatedResolution is returned when the tracer reports warnings while
// dependencies are resolved through an isolated loader. Paths to native
// dependencies cannot be followed there, so the artifact would be incomplete.
var ErrIsolatedResolution = errors.New("standalone build is not supported with isolated dependency resolution (Yarn Plug'n'Play) and unresolved dependencies")

var pnpManifests = []string{".pnp.cjs", ".pnp.js"}

// DetectIsolatedResolution reports whether root installs dependencies through
// Yarn Plug'n'Play.
func DetectIsolatedResolution(root string) bool {
	for _, name := range pnpManifests {
		info, err := os.Stat(filepath.Join(root, name))
		if err == nil && info.Mode().IsRegular() {
			return true
		}
	}
	return false
}

// ResolveIsolatedResolution maps an isolated_resolution setting to a decision.
func ResolveIsolatedResolution(mode string, root string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", IsolatedAuto:
		return DetectIsolatedResolution(root), nil
	case IsolatedOn:
		return true, nil
	case IsolatedOff:
		return false, nil
	default:
		return false, fmt.Errorf("invalid isolated_resolution: %q (want auto|on|off)", mode)
	}
}
