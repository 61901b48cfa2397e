package dashboard

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
)

//go:embed assets
var embeddedAssets embed.FS

// assetHandler serves /assets/ from an optional override directory and
// falls back to the files built into the binary.
type assetHandler struct {
	overrideDir string
	embedded    http.Handler
}

func newAssetHandler(overrideDir string) *assetHandler {
	sub, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		panic(err)
	}
	return &assetHandler{
		overrideDir: overrideDir,
		embedded:    http.FileServer(http.FS(sub)),
	}
}

func (h *assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(r.URL.Path)
	if h.overrideDir != "" {
		overridePath := filepath.Join(h.overrideDir, filename)
		if fileExists(overridePath) {
			http.ServeFile(w, r, overridePath)
			return
		}
	}

	r2 := r.Clone(r.Context())
	r2.URL.Path = "/" + filename
	h.embedded.ServeHTTP(w, r2)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
