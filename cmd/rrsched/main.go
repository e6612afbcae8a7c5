package main

import (
	"os"

	"rrsched/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
