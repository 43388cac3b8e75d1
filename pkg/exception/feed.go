package exception

import "errors"

// Feed transport errors. A closed connection is retried with backoff; a
// protocol error means the server rejected a request.
var (
	ErrWebSocketConnectionClose = errors.New("feed: websocket connection closed")
	ErrWebSocketProtocol        = errors.New("feed: websocket protocol error")
)
