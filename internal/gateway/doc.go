// Package gateway orchestrates the thunderchat server components.
//
// # Overview
//
// The gateway package is the central coordinator of the thunderchat server.
// It owns the connection hub, the WhatsApp provider client, the webhook
// handler, and the HTTP server that fronts all of them.
//
// # HTTP API
//
//   - POST /api/login - Exchange username/password for a signed token
//   - POST /api/send - Submit an outbound message (bearer token required)
//   - GET/POST /webhook - Provider verification handshake and event delivery
//   - GET /ws - Websocket endpoint for relay clients (?token= required)
//   - GET /health - Liveness check
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Graceful shutdown:
//
//	cancel()
//
// Run drains the HTTP server and disconnects all hub clients before
// returning.
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown
//   - api.go: Login and send handlers
package gateway
