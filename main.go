package main

import (
	"os"

	"github.com/ohmage/ohmage-oauth/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
