package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// GetStateHome returns a directory for chatrelay state data (traces), creating
// it if needed. Can be overridden with CHATRELAY_STATE_HOME.
func GetStateHome() (string, error) {
	stateDir := os.Getenv("CHATRELAY_STATE_HOME")
	if stateDir != "" {
		err := os.MkdirAll(stateDir, 0755)
		if err != nil {
			return "", fmt.Errorf("failed to create state directory from CHATRELAY_STATE_HOME: %w", err)
		}
		return stateDir, nil
	}

	stateDir = filepath.Join(xdg.StateHome, "chatrelay")
	err := os.MkdirAll(stateDir, 0755)
	if err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return stateDir, nil
}
