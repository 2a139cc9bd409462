// Package session implements the realtime session layer of the marketplace
// client: one authenticated, multiplexed websocket connection to the chat
// backend, with automatic reconnection, room subscription reconciliation,
// optimistic message sends, and ephemeral typing/presence tracking.
//
// The Client is the single integration point. UI code dispatches intents
// (Connect, JoinRoom, Send, ...) and observes results through the update
// stream and the Store snapshot; nothing else touches the connection.
// All state transitions run on one internal event loop, so component state
// is never mutated concurrently.
package session
