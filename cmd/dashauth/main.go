package main

import (
	"os"

	"github.com/porthorian/dashauth/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
