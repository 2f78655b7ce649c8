package main

import (
	"log"

	"github.com/clustersim/clusterd/internal/server"
)

func main() {
	if err := server.Run(); err != nil {
		log.Fatal(err)
	}
}
