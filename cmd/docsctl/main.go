package main

import (
	"os"

	"github.com/kirillkom/docs-assistant/cmd/docsctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
