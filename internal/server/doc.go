// Package server implements the websocket room chat server.
//
// A Hub owns every connection and the per-room fan-out groups. Each
// connection's read pump drives a session, the per-connection event router,
// which applies join, sendMessage and typing events to the presence registry
// and broadcasts the results. Server ties these to the HTTP routes, including
// the optional account API.
package server
