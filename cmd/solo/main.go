package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/pixperk/solo/internal/cli"
	"github.com/pixperk/solo/pkg/types"
)

func main() {
	if err := cli.Execute(); err != nil {
		if errors.Is(err, types.ErrBindExhausted) {
			fmt.Fprintln(os.Stderr, "solo: cannot coordinate with other instances:", err)
		}
		os.Exit(1)
	}
}
