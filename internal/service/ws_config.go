package service

import (
	"strings"

	"github.com/psds-microservice/call-relay-service/pkg/constants"
)

// WSConfig holds WebSocket URL base for responses.
type WSConfig struct {
	BaseURL string
}

// WSURL returns the URL clients connect to (e.g. wss://chat.example.com/ws).
// Without a base URL the path alone is returned so the browser resolves it against the page origin.
func (c *WSConfig) WSURL() string {
	if c == nil || c.BaseURL == "" {
		return constants.PathWS
	}
	return strings.TrimRight(c.BaseURL, "/") + constants.PathWS
}
