package main

import (
	"log"

	"github.com/revohq/revoflow/cmd/revoctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
