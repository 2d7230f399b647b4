package constants

// Пути health, ready, WebSocket и служебных запросов.
const (
	PathHealth       = "/health"
	PathReady        = "/ready"
	PathWS           = "/ws"
	PathStatus       = "/status"
	PathAvailability = "/users/:identity/availability"
)
