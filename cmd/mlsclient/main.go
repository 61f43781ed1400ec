package main

import (
	"os"

	"github.com/germtb/mlsclient/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
