package sectorcontrol

import (
	"os"
	"strings"

	"github.com/google/uuid"
)

// loadOrCreateDeviceID returns the stable opaque identifier used to tag
// persisted violation records, generating and storing one on first run.
func loadOrCreateDeviceID(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	return id, nil
}
