package handlers

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// ServeSPA returns a NoRoute handler that serves files from staticDir
// and falls back to its index.html for any other path, so client-side
// routes resolve to the single-page application entry document.
func ServeSPA(staticDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		requested := strings.TrimPrefix(c.Request.URL.Path, "/")
		// Clean against the root first so traversal cannot escape the
		// static directory.
		full := filepath.Join(staticDir, filepath.Clean("/"+requested))

		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			c.File(full)
			return
		}
		c.File(filepath.Join(staticDir, "index.html"))
	}
}
