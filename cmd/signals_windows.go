//go:build windows

package cmd

import "os"

// Windows has no user signals; the watcher stays visible.
func visibilitySignals() (hidden, visible os.Signal) {
	return nil, nil
}
