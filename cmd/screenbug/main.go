// Package main is the screenbug command line.
package main

import (
	"os"

	"github.com/screenbug/backend/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
