// Package main provides the entry point for the qtune CLI.
package main

import (
	"errors"
	"os"

	"github.com/jamesainslie/qtune/pkg/qtune/logging"
)

func main() {
	err := Execute()
	_ = logging.Close()
	if err != nil {
		if !errors.Is(err, errInvalidDocuments) {
			printError("%v", err)
		}
		os.Exit(1)
	}
}
