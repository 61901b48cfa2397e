package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/smartcare-lab/care-monitor/internal/metrics"
	"github.com/smartcare-lab/care-monitor/pkg/types"
)

func TestClientReturnsResult(t *testing.T) {
	var gotImage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotImage = body["image"]
		_, _ = w.Write([]byte(`{"isFallen":true,"confidence":0.92,"description":"person on floor"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	res, err := c.Check(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0xD9})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.IsFallen || res.Confidence == nil || *res.Confidence != 0.92 || res.Description != "person on floor" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.HasPrefix(gotImage, "data:image/jpeg;base64,") {
		t.Fatalf("image must be sent as a JPEG data URL, got %q", gotImage)
	}
}

func TestClientTimeoutReturnsDefault(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	m := metrics.New()
	c := NewClient(srv.URL, 50*time.Millisecond, m)
	res, err := c.Check(context.Background(), []byte{1})
	if err != nil {
		t.Fatalf("timeout must not be an error, got %v", err)
	}
	want := types.AnalysisResult{IsFallen: false, Description: "Analysis timeout - please try again"}
	if res.IsFallen != want.IsFallen || res.Description != want.Description || res.Confidence != nil {
		t.Fatalf("got %+v, want %+v", res, want)
	}
	if m.ChecksTimedOut.Load() != 1 {
		t.Fatalf("expected timeout counted")
	}
}

func TestClientParentCancelIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := NewClient(srv.URL, time.Second, nil).Check(ctx, []byte{1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClientFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"Error"}`},
		{"malformed json", http.StatusOK, `not json`},
		{"missing field", http.StatusOK, `{"description":"?"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			if _, err := NewClient(srv.URL, time.Second, nil).Check(context.Background(), []byte{1}); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestParseModelReply(t *testing.T) {
	cases := []struct {
		name       string
		text       string
		fallen     bool
		confidence float64
	}{
		{"plain", `{"isFallen":false,"confidence":0.1,"description":"empty room"}`, false, 0.1},
		{"fenced", "```json\n{\"isFallen\":true,\"confidence\":0.8,\"description\":\"lying\"}\n```", true, 0.8},
		{"percent", `{"isFallen":true,"confidence":85,"description":"x"}`, true, 0.85},
		{"prose", `Here you go: {"isFallen":false,"confidence":-2,"description":"x"} done`, false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := ParseModelReply(tc.text)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if res.IsFallen != tc.fallen {
				t.Fatalf("isFallen = %v, want %v", res.IsFallen, tc.fallen)
			}
			if res.Confidence == nil || *res.Confidence != tc.confidence {
				t.Fatalf("confidence = %v, want %v", res.Confidence, tc.confidence)
			}
		})
	}

	if _, err := ParseModelReply("{}"); err == nil {
		t.Fatalf("reply without isFallen must fail")
	}
}

func TestDecodeDataURL(t *testing.T) {
	mimeType, data, err := DecodeDataURL(EncodeDataURL("image/png", []byte("png")))
	if err != nil || mimeType != "image/png" || string(data) != "png" {
		t.Fatalf("got %q %q %v", mimeType, data, err)
	}

	mimeType, data, err = DecodeDataURL("anBlZw==")
	if err != nil || mimeType != "image/jpeg" || string(data) != "jpeg" {
		t.Fatalf("bare base64: got %q %q %v", mimeType, data, err)
	}

	if _, _, err := DecodeDataURL("data:image/jpeg;base64,!!!"); err == nil || errors.Is(err, ErrNoImage) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

type fakeModel struct {
	reply    string
	err      error
	mimeType string
	image    []byte
}

func (f *fakeModel) Analyze(ctx context.Context, mimeType string, image []byte) (string, error) {
	f.mimeType = mimeType
	f.image = image
	return f.reply, f.err
}

func postImage(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/analyze-image", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHandlerMissingImage(t *testing.T) {
	h := NewHandler(&fakeModel{}, time.Second)

	for _, body := range []string{`{}`, `{"image":""}`} {
		rec := postImage(t, h, body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
		if got := decodeBody(t, rec)["error"]; got != "No image" {
			t.Fatalf("%s: unexpected error %v", body, got)
		}
	}
}

func TestHandlerSuccess(t *testing.T) {
	model := &fakeModel{reply: "```json\n{\"isFallen\":true,\"confidence\":0.9,\"description\":\"on floor\"}\n```"}
	h := NewHandler(model, time.Second)

	rec := postImage(t, h, `{"image":"`+EncodeDataURL("image/webp", []byte("frame"))+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["isFallen"] != true || body["confidence"] != 0.9 || body["description"] != "on floor" {
		t.Fatalf("unexpected body %v", body)
	}
	if model.mimeType != "image/webp" || string(model.image) != "frame" {
		t.Fatalf("model got %q %q", model.mimeType, model.image)
	}
}

func TestHandlerProcessingFailures(t *testing.T) {
	cases := []struct {
		name  string
		model Model
		body  string
	}{
		{"model error", &fakeModel{err: errors.New("quota")}, `{"image":"anBlZw=="}`},
		{"bad reply", &fakeModel{reply: "I cannot help"}, `{"image":"anBlZw=="}`},
		{"bad base64", &fakeModel{}, `{"image":"data:image/jpeg;base64,***"}`},
		{"bad json", &fakeModel{}, `{"image":`},
		{"no model", nil, `{"image":"anBlZw=="}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postImage(t, NewHandler(tc.model, time.Second), tc.body)
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", rec.Code)
			}
			if got := decodeBody(t, rec)["error"]; got != "Error" {
				t.Fatalf("unexpected error %v", got)
			}
		})
	}
}

func TestReplyText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{Text: "thinking...", Thought: true},
			{Text: `{"isFallen":`},
			{Text: `false}`},
		}},
	}}}
	text, err := replyText(resp)
	if err != nil {
		t.Fatalf("reply text: %v", err)
	}
	if text != `{"isFallen":false}` {
		t.Fatalf("unexpected text %q", text)
	}

	if _, err := replyText(&genai.GenerateContentResponse{}); err == nil {
		t.Fatalf("expected error without candidates")
	}
}
