// ABOUTME: Package documentation for the gateway package
// ABOUTME: Describes the HTTP surface and how components are wired together

// Package gateway wires the store, the dialog guards and the message
// coordinator into an HTTP server.
//
// The API splits into three surfaces. The user surface
// (/api/auth/login, /api/me, /api/dialogs..., /api/send) authenticates
// with bearer session tokens; /api/send blocks until the AI reply
// arrives. The worker surface (/api/worker/messages, /api/worker/reply)
// authenticates with the static X-Worker-Key header. The health endpoint
// optionally requires X-Health-Key.
//
// Handlers validate input before touching the store and map domain errors
// to HTTP statuses; unexpected store failures collapse into a generic 500
// so internals never leak to clients.
package gateway
