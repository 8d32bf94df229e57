package substrate

import (
	"embed"
	"io/fs"

	"github.com/jcast/substrate/internal/manifest"
)

//go:embed fixups/*.risor
var embeddedFixups embed.FS

// DefaultFixups returns the embedded default fixup scripts, rooted so
// bare script names resolve directly.
func DefaultFixups() fs.FS {
	sub, err := fs.Sub(embeddedFixups, "fixups")
	if err != nil {
		panic(err) // embed layout is fixed at build time
	}
	return sub
}

// LoadManifest reads a substrate.yaml from disk and applies defaults.
// The result is not yet validated; [New] validates, or call Validate
// directly.
func LoadManifest(path string) (*Manifest, error) {
	return manifest.Load(path)
}

// ParseManifest parses manifest bytes and applies defaults.
func ParseManifest(data []byte) (*Manifest, error) {
	return manifest.Parse(data)
}
