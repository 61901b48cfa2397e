package dashboard

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/smartcare-lab/care-monitor/internal/logger"
)

// SerializedEvent holds pre-serialized data for both JSON and Protobuf formats.
// Each view is serialized once and shared by every subscriber.
type SerializedEvent struct {
	Version      uint64
	JSONData     []byte
	ProtobufData []byte // Base64-encoded protobuf
}

// StatusBroadcaster fans out status views to live clients (SSE, WebSocket,
// WebRTC data channels). Views are pushed on every state change and
// re-sent on a heartbeat interval while clients are connected.
type StatusBroadcaster struct {
	mu       sync.Mutex
	clients  map[int]chan *SerializedEvent
	nextID   int
	last     *SerializedEvent
	source   func() StatusView
	interval time.Duration
	stop     chan struct{}
	stopped  bool
}

// NewStatusBroadcaster creates a broadcaster. source is read for the
// heartbeat and for the first event a new subscriber receives.
func NewStatusBroadcaster(source func() StatusView, interval time.Duration) *StatusBroadcaster {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &StatusBroadcaster{
		clients:  make(map[int]chan *SerializedEvent),
		source:   source,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Subscribe adds a new client. The current view is queued immediately.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 2)
	if sb.stopped {
		close(ch)
		return id, ch
	}
	sb.clients[id] = ch

	if sb.last == nil && sb.source != nil {
		if ev, err := serializeView(sb.source()); err == nil {
			sb.last = ev
		}
	}
	if sb.last != nil {
		ch <- sb.last
	}
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		delete(sb.clients, id)
		close(ch)
	}
}

// ClientCount returns the number of subscribed clients.
func (sb *StatusBroadcaster) ClientCount() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return len(sb.clients)
}

// Start begins the heartbeat loop.
func (sb *StatusBroadcaster) Start() {
	go sb.run()
}

// Stop ends the heartbeat loop and closes every client channel.
func (sb *StatusBroadcaster) Stop() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.stopped {
		return
	}
	sb.stopped = true
	close(sb.stop)
	for id, ch := range sb.clients {
		delete(sb.clients, id)
		close(ch)
	}
}

func (sb *StatusBroadcaster) run() {
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case <-ticker.C:
			if sb.ClientCount() == 0 || sb.source == nil {
				continue
			}
			sb.Publish(sb.source())
		}
	}
}

// Publish serializes view and sends it to all clients. A view older than
// the last one sent is dropped.
func (sb *StatusBroadcaster) Publish(view StatusView) {
	event, err := serializeView(view)
	if err != nil {
		logger.Error("Broadcast", "Failed to serialize status: %v", err)
		return
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.stopped {
		return
	}
	if sb.last != nil && event.Version < sb.last.Version {
		return
	}
	sb.last = event

	for _, ch := range sb.clients {
		select {
		case ch <- event:
		default:
			// Slow client: replace the oldest queued view with this one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// Latest returns the last event sent, or nil.
func (sb *StatusBroadcaster) Latest() *SerializedEvent {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.last
}

func serializeView(view StatusView) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}

	// structpb only accepts JSON-shaped values, so go through the JSON form.
	var generic map[string]any
	if err := json.Unmarshal(jsonData, &generic); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	pbStruct, err := structpb.NewStruct(generic)
	if err != nil {
		return nil, fmt.Errorf("build protobuf struct: %w", err)
	}
	pbData, err := proto.Marshal(pbStruct)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}

	return &SerializedEvent{
		Version:      view.Version,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
