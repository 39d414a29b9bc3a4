package jsoncodec

import (
	"bytes"
	"strings"
	"testing"
)

type testPayload struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := testPayload{ID: 42, Name: "botflow"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out testPayload
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if out != in {
		t.Fatalf("expected round trip to match, got %#v", out)
	}
}

func TestEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, testPayload{ID: 7, Name: "frame"}); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var out testPayload
	if err := Decode(strings.NewReader(buf.String()), &out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.ID != 7 || out.Name != "frame" {
		t.Fatalf("unexpected decode result %#v", out)
	}
}

func TestRawMessageBatch(t *testing.T) {
	var frames []RawMessage
	if err := Unmarshal([]byte(`[{"a":1},{"b":"x"}]`), &frames); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !Valid(frames[1]) {
		t.Fatalf("expected raw frame to be valid JSON: %s", frames[1])
	}
}

func TestValid(t *testing.T) {
	if Valid([]byte(`{"broken":`)) {
		t.Fatal("expected truncated document to be invalid")
	}
	if !Valid([]byte(`{"ok":true}`)) {
		t.Fatal("expected document to be valid")
	}
}

func TestPeekString(t *testing.T) {
	frame := []byte(`{"post_type":"message","self_id":10001}`)

	if got, ok := PeekString(frame, "post_type"); !ok || got != "message" {
		t.Fatalf("expected post_type=message, got %q (%v)", got, ok)
	}
	if _, ok := PeekString(frame, "missing"); ok {
		t.Fatal("expected missing key to report false")
	}
	if _, ok := PeekString(frame, "self_id"); ok {
		t.Fatal("expected non-string key to report false")
	}
	if _, ok := PeekString([]byte("garbage"), "post_type"); ok {
		t.Fatal("expected garbage input to report false")
	}
}
