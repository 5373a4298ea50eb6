package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tonimelisma/cthulhu/internal/backend"
)

// exitSessionExpired is the exit status when a command signed the user out
// because the session could not be recovered.
const exitSessionExpired = 3

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, backend.ErrSessionExpired) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitSessionExpired)
		}

		exitOnError(err)
	}
}
