package main

import (
	"log"

	"github.com/ntd280804/mobile-service-system-sub001/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
