package node

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/levalup/quickdist/pkg/log"
	"github.com/levalup/quickdist/pkg/script"
)

// scriptCacheDir holds the staged copies of shipped job scripts.
func scriptCacheDir() string {
	return filepath.Join(os.TempDir(), "quickdist", "jobs")
}

// cacheScript writes the shipped script text to the cache directory and
// returns a path source, so workers load the same on-disk file and the job
// is inspectable afterwards. On any write failure the text is used inline.
func cacheScript(text string) script.Source {
	dir := scriptCacheDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return script.FromText(text)
	}

	name := fmt.Sprintf("job-%s-%s.lua",
		time.Now().Format("20060102-150405.000000"),
		uuid.New().String()[:8],
	)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return script.FromText(text)
	}

	logger := log.WithComponent("node")
	logger.Debug().Str("script", path).Msg("script cached")
	return script.FromPath(path)
}
