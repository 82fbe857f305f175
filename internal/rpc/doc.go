// Package rpc implements the request/response channel between photon and
// its worker process.
//
// Messages are JSON objects carried in length-prefixed frames:
//
//	┌───────────────────────────────┬─────────────────────────────┐
//	│ Payload Length                │ Payload (JSON message)      │
//	│ (4 bytes, big-endian)         │                             │
//	└───────────────────────────────┴─────────────────────────────┘
//
// A request has an id, a method and params. The matching response carries
// the same id and either a result or an error. Every call is bounded by a
// timeout and returns a tagged Result, so callers can tell "the remote said
// no" (StatusFailed) from "the remote never answered" (StatusTimedOut).
//
// The method names are a fixed contract shared with the JavaScript side:
//
//	server → worker: start, invalidateDepTree, deleteByModuleId
//	worker → server: fetchModule, moduleGraphResolveUrl,
//	                 moduleGraphGetModuleById, transformIndexHtml
package rpc
