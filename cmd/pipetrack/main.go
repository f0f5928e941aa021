package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"pipetrack/internal/store"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch store.Kind(err) {
	case "":
		return 0
	case store.KindInvalidInput:
		return 2
	case store.KindNotFound:
		return 3
	case store.KindBusy:
		return 4
	case store.KindCorrupt:
		return 5
	case store.KindAmbiguous:
		return 6
	default:
		return 1
	}
}
