// Package stream bridges a hub subscriber to an outbound transport.
//
// A Session owns the lifecycle of one client connection: acknowledgment on
// connect, the queue drain loop, idle heartbeats, and unregistration on any
// exit path. Transport framing (SSE, WebSocket) is behind RecordWriter.
package stream
