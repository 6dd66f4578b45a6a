package mqtt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateDeviceID reads the device ID from a file in dataDir, or
// generates a new UUIDv7 and persists it if the file does not exist.
// Used when no device_id is configured: the generated ID is stable
// across restarts, so the broker-side topic namespace and any policy
// scoped to the client ID keep working.
func LoadOrCreateDeviceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "device_id")

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate device ID: %w", err)
	}

	idStr := id.String()
	if err := os.WriteFile(path, []byte(idStr+"\n"), 0644); err != nil {
		return "", fmt.Errorf("persist device ID to %s: %w", path, err)
	}

	return idStr, nil
}
