// Package main — точка входа call-relay-service (HTTP + WebSocket).
package main

import (
	"log"

	"github.com/psds-microservice/call-relay-service/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
