package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/smartcare-lab/care-monitor/pkg/types"
)

func fallEvent(id string) types.FallEvent {
	return types.FallEvent{
		ID:         id,
		DetectedAt: time.Date(2026, 2, 14, 8, 30, 0, 0, time.UTC),
		Result:     types.AnalysisResult{IsFallen: true, Description: "person on floor"},
		Frame:      []byte{0xFF, 0xD8, 0xFF, 0xD9},
	}
}

func TestFileStoreWritesFrameAndRecord(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	r := New(store)

	if err := r.NotifyFall(context.Background(), fallEvent("evt-1")); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	base := filepath.Join(dir, "falls", "2026", "02", "14", "evt-1")
	frame, err := os.ReadFile(base + ".jpg")
	if err != nil || !bytes.Equal(frame, []byte{0xFF, 0xD8, 0xFF, 0xD9}) {
		t.Fatalf("frame not written: %v", err)
	}
	raw, err := os.ReadFile(base + ".json")
	if err != nil {
		t.Fatalf("record not written: %v", err)
	}
	var rec types.FallEvent
	if err := json.Unmarshal(raw, &rec); err != nil || rec.ID != "evt-1" || !rec.Result.IsFallen {
		t.Fatalf("unexpected record %s (%v)", raw, err)
	}
	if _, err := os.Stat(base + ".jpg.tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}

	st := r.Status()
	if st.Saved != 1 || st.Failed != 0 || st.LastKey != "falls/2026/02/14/evt-1" || st.BytesWritten == 0 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestNotifyAfterCloseFails(t *testing.T) {
	r := New(&memStore{})
	_ = r.Close()
	if err := r.NotifyFall(context.Background(), fallEvent("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestMissingIDGetsOne(t *testing.T) {
	store := &memStore{}
	r := New(store)
	_ = r.NotifyFall(context.Background(), fallEvent(""))
	_ = r.Close()

	if len(store.keys()) != 2 {
		t.Fatalf("expected frame and record, got %v", store.keys())
	}
	if r.Status().LastKey == "falls/2026/02/14" {
		t.Fatalf("event must get a generated id")
	}
}

func TestStoreFailureCounted(t *testing.T) {
	r := New(&memStore{err: errors.New("disk full")})
	_ = r.NotifyFall(context.Background(), fallEvent("e"))
	_ = r.Close()
	if st := r.Status(); st.Failed != 1 || st.Saved != 0 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestQueueFullIsNotBlocking(t *testing.T) {
	store := &memStore{gate: make(chan struct{})}
	r := New(store)

	var busy bool
	for i := range 64 {
		if err := r.NotifyFall(context.Background(), fallEvent(string(rune('a'+i%26)))); errors.Is(err, ErrBusy) {
			busy = true
			break
		}
	}
	close(store.gate)
	_ = r.Close()
	if !busy {
		t.Fatalf("expected ErrBusy once the queue filled")
	}
}

type fakePutter struct {
	bucket, key, contentType string
	body                     []byte
}

func (f *fakePutter) PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64,
	opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.bucket, f.key, f.contentType = bucket, object, opts.ContentType
	f.body, _ = io.ReadAll(reader)
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func TestObjectStorePut(t *testing.T) {
	p := &fakePutter{}
	s := &ObjectStore{client: p, bucket: "fall-evidence"}
	if err := s.Put(context.Background(), "falls/x.jpg", []byte("jpeg"), "image/jpeg"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if p.bucket != "fall-evidence" || p.key != "falls/x.jpg" || p.contentType != "image/jpeg" || string(p.body) != "jpeg" {
		t.Fatalf("unexpected put %+v", p)
	}
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
	gate    chan struct{}
}

func (m *memStore) Put(ctx context.Context, key string, data []byte, _ string) error {
	if m.gate != nil {
		<-m.gate
	}
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = data
	return nil
}

func (m *memStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}
