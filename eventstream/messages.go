// Package eventstream multiplexes server change notifications for
// many (mount, path) subscriptions over one reconnecting socket.
package eventstream

import "encoding/json"

// Outbound message types
const (
	messageTypeAuth       = "auth"
	messageTypeRegister   = "register"
	messageTypeDeregister = "deregister"
	messageTypePing       = "ping"
)

// Inbound message types
const (
	messageTypeAuthenticated = "authenticated"
	messageTypeRegistered    = "registered"
	messageTypeDeregistered  = "deregistered"
	messageTypeEvent         = "event"
)

// authMessage authenticates the channel
type authMessage struct {
	Type          string `json:"type"`
	Authorization string `json:"authorization"`
}

// registerMessage subscribes to events of a (mount, path) subtree
type registerMessage struct {
	Type      string `json:"type"`
	RequestId int64  `json:"requestId"`
	MountId   string `json:"mountId"`
	Path      string `json:"path"`
}

// deregisterMessage removes a server listener
type deregisterMessage struct {
	Type       string `json:"type"`
	ListenerId int64  `json:"listenerId"`
}

// pingMessage keeps the channel alive
type pingMessage struct {
	Type string `json:"type"`
}

// serverMessage is the inbound message envelope. Unknown types are
// ignored for forward compatibility.
type serverMessage struct {
	Type       string       `json:"type"`
	RequestId  int64        `json:"requestId,omitempty"`
	ListenerId int64        `json:"listenerId,omitempty"`
	Event      *serverEvent `json:"event,omitempty"`
}

// Server event types
const (
	eventTypeFileCreated = "fileCreatedEvent"
	eventTypeFileRemoved = "fileRemovedEvent"
	eventTypeFileCopied  = "fileCopiedEvent"
	eventTypeFileMoved   = "fileMovedEvent"
)

// serverEvent is one change notification. The path is relative to
// the listener's path.
type serverEvent struct {
	Type      string          `json:"type"`
	MountId   string          `json:"mountId"`
	Path      string          `json:"path"`
	NewPath   string          `json:"newPath,omitempty"`
	File      json.RawMessage `json:"file,omitempty"`
	UserAgent string          `json:"userAgent,omitempty"`
}
