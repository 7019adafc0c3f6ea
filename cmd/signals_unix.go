//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// visibilitySignals maps SIGUSR1 to hidden and SIGUSR2 to visible.
func visibilitySignals() (hidden, visible os.Signal) {
	return syscall.SIGUSR1, syscall.SIGUSR2
}
