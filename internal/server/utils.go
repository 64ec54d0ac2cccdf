package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// getXDGStateHome returns $XDG_STATE_HOME/appName, falling back to
// ~/.local/state, and creates it.
func getXDGStateHome(appName string) (string, error) {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		stateHome = filepath.Join(home, ".local", "state")
	}

	dir := filepath.Join(stateHome, appName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}

func showMessage(notify glsp.NotifyFunc, kind protocol.MessageType, message string) {
	notify("window/showMessage", protocol.ShowMessageParams{
		Type:    kind,
		Message: message,
	})
}
