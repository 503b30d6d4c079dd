package main

import (
	"os"

	"github.com/nimasrn/deposit-gateway/pkg/logger"
)

func main() {
	defer logger.Sync()

	if err := newRootCmd().Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
