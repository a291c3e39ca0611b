package config

// DefaultServerURL is the default agent WebSocket endpoint.
const DefaultServerURL = "ws://127.0.0.1:8787/ws"

// DefaultAPIURL is the default workspace management API base URL.
const DefaultAPIURL = "http://127.0.0.1:8787/api"
