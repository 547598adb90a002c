// Package server exposes a navigation controller over HTTP.
//
// Commands map onto controller operations (POST /navigate, /back, /forward,
// /refresh, /stop). Progress and failure events are streamed to websocket
// clients on GET /events as JSON frames of type "progress" and "failure".
package server
