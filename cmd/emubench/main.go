package main

import (
	"os"

	"github.com/msto63/emubench/cmd/emubench/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
