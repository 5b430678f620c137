package eventhub

import (
	"context"
	"log"
)

// Broadcaster delivers events to connected frontends. The websocket
// server implements this; tests supply fakes.
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// EventHub fans application events out to the active broadcaster.
// Managers hold it through the narrow Emit method, so they never see
// the websocket layer.
type EventHub struct {
	ctx         context.Context
	broadcaster Broadcaster
}

func New(ctx context.Context) *EventHub {
	return &EventHub{ctx: ctx}
}

// SetBroadcaster attaches the transport once it is listening.
// Events emitted before that are dropped.
func (h *EventHub) SetBroadcaster(b Broadcaster) {
	h.broadcaster = b
}

func (h *EventHub) emit(eventName string, data interface{}) {
	if h.broadcaster == nil {
		log.Printf("[EventHub] no broadcaster, dropping event: %s", eventName)
		return
	}
	h.broadcaster.BroadcastEvent(eventName, data)
}

// Emit satisfies the EventEmitter interface used by the stream,
// queue, auto-write and git packages.
func (h *EventHub) Emit(eventName string, data interface{}) {
	h.emit(eventName, data)
}

// FileChangedEvent reports a single on-disk change under the workspace root.
type FileChangedEvent struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// WorkspaceChangedEvent reports that the active workspace root switched.
type WorkspaceChangedEvent struct {
	Root string `json:"root"`
}

func (h *EventHub) EmitFileChanged(path, changeType string) {
	h.emit("workspace:file", FileChangedEvent{Path: path, Type: changeType})
}

func (h *EventHub) EmitWorkspaceChanged(root string) {
	h.emit("workspace:changed", WorkspaceChangedEvent{Root: root})
}
