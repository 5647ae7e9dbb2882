// Package ws implements the WebSocket hub that pushes the live monitoring
// overview to connected dashboard clients on a fixed broadcast interval.
package ws
