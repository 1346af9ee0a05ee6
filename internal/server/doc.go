// Package server is the WebSocket and HTTP front of the chat relay.
//
// It upgrades connections, runs a read and a write pump per client, and hands
// inbound frames to the relay pipeline. Configuration, origin checks and
// per-connection rate limiting live here as well.
package server
