package main

import (
	"log"

	"github.com/thc1967/codex-quest-manager-sub000/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatalf("questd: %v", err)
	}
}
