package websocket

// RPCRequest is a frontend call to a bound App method.
type RPCRequest struct {
	ID     string        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// RPCResponse carries the result or error for a request ID.
type RPCResponse struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// WSEvent is a server-pushed event, e.g. "stream:token".
type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WSMessage is the envelope for everything on the wire.
// Kind is one of "rpc_request", "rpc_response", "event".
type WSMessage struct {
	Kind     string       `json:"kind"`
	Request  *RPCRequest  `json:"request,omitempty"`
	Response *RPCResponse `json:"response,omitempty"`
	Event    *WSEvent     `json:"event,omitempty"`
}
