package main

import (
	"os"

	"github.com/civ-ci/civ/cli"
)

func main() {
	os.Exit(cli.Execute())
}
