//go:build !unix

package cli

import (
	"os"

	"github.com/bhandras/greeter/pkg/logger"
)

// restartProcess exits; without exec the caller has to start greeter again.
func restartProcess(chainID string) {
	logger.Errorf("Wallet switched to chain %s; start greeter again", chainID)
	os.Exit(1)
}
