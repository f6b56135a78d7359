//go:build unix

package cli

import (
	"os"
	"syscall"

	"github.com/bhandras/greeter/pkg/logger"
)

// restartProcess replaces the process with a fresh copy of itself so every
// component starts over on the new network.
func restartProcess(chainID string) {
	exe, err := os.Executable()
	if err != nil {
		logger.Errorf("Cannot restart after network change to %s: %v", chainID, err)
		os.Exit(1)
	}
	logger.Infof("Wallet switched to chain %s; restarting", chainID)
	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		logger.Errorf("Restart failed: %v", err)
		os.Exit(1)
	}
}
