package main

import (
	"os"

	"github.com/exportmon/exportmon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
