// Package recorder keeps evidence for each detected fall: the analysed JPEG
// and a JSON record of the result.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartcare-lab/care-monitor/internal/logger"
	"github.com/smartcare-lab/care-monitor/pkg/types"
)

var log = logger.Scope("Recorder")

// ErrBusy is returned when the write queue is full.
var ErrBusy = errors.New("recorder: queue full")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("recorder: closed")

// Store persists one object.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Recorder queues fall events and writes them to a Store in the background.
type Recorder struct {
	store     Store
	mu        sync.RWMutex
	closed    bool
	eventChan chan types.FallEvent
	wg        sync.WaitGroup

	saved        uint64
	failed       uint64
	bytesWritten uint64
	lastKey      string
	lastSaved    time.Time
}

// New starts a recorder writing to store.
func New(store Store) *Recorder {
	r := &Recorder{
		store:     store,
		eventChan: make(chan types.FallEvent, 16),
	}
	r.wg.Add(1)
	go r.writeEvents()
	return r
}

// NotifyFall queues ev without blocking.
func (r *Recorder) NotifyFall(ctx context.Context, ev types.FallEvent) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	select {
	case r.eventChan <- ev:
		return nil
	default:
		return ErrBusy
	}
}

func (r *Recorder) writeEvents() {
	defer r.wg.Done()
	for ev := range r.eventChan {
		if err := r.writeEvent(ev); err != nil {
			r.mu.Lock()
			r.failed++
			r.mu.Unlock()
			log.Error("Failed to store fall %s: %v", ev.ID, err)
		}
	}
}

// objectKey lays events out by day: falls/2006/01/02/<id>.
func objectKey(ev types.FallEvent) string {
	return path.Join("falls", ev.DetectedAt.UTC().Format("2006/01/02"), ev.ID)
}

func (r *Recorder) writeEvent(ev types.FallEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := objectKey(ev)
	var written int
	if len(ev.Frame) > 0 {
		if err := r.store.Put(ctx, key+".jpg", ev.Frame, "image/jpeg"); err != nil {
			return fmt.Errorf("frame: %w", err)
		}
		written += len(ev.Frame)
	}

	meta, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := r.store.Put(ctx, key+".json", meta, "application/json"); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	written += len(meta)

	r.mu.Lock()
	r.saved++
	r.bytesWritten += uint64(written)
	r.lastKey = key
	r.lastSaved = time.Now()
	r.mu.Unlock()

	log.Info("Stored fall evidence %s", key)
	return nil
}

// Status holds recorder counters.
type Status struct {
	Saved        uint64    `json:"saved"`
	Failed       uint64    `json:"failed"`
	BytesWritten uint64    `json:"bytes_written"`
	LastKey      string    `json:"last_key,omitempty"`
	LastSaved    time.Time `json:"last_saved,omitzero"`
}

func (r *Recorder) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{
		Saved:        r.saved,
		Failed:       r.failed,
		BytesWritten: r.bytesWritten,
		LastKey:      r.lastKey,
		LastSaved:    r.lastSaved,
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.eventChan)
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}
