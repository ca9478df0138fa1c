package main

import (
	"log"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Printf("fieldsync: %v", err)
		os.Exit(1)
	}
}
