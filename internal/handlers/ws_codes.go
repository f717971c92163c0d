// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the channel socket.
const (
	BadSubprotocolError   = 3000 // Client connected without the werewolf subprotocol.
	InvalidChannelIDError = 3003 // Channel in the URL does not exist.
	NotAMemberError       = 3004 // User has not joined the channel.
	SlowConsumerError     = 3005 // Outbox overflowed; the client should reconnect and fetch state.
)
