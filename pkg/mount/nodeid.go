package mount

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/levalup/quickdist/pkg/config"
)

// NodeID returns this host's persistent identity, creating it on first
// access. Mount descriptors carry the creator's id so a node can tell
// "mounting on my own host" from "mounting on a remote node".
func NodeID() (string, error) {
	path := filepath.Join(config.Dir(), "nodeid")

	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}

	if err := os.MkdirAll(config.Dir(), 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", config.Dir(), err)
	}

	id := uuid.New().String()
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", fmt.Errorf("failed to write node id: %w", err)
	}
	return id, nil
}
