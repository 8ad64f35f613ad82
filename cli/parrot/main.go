package main

import (
	"os"

	parrotcmder "github.com/parrotlabsco/parrot/cmd/parrot"
)

func main() {
	cmd := parrotcmder.NewParrotCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
