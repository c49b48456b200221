package protocol

import "testing"

func TestPrivateSuffixing(t *testing.T) {
	if got := Private(TypeText); got != "text_private" {
		t.Fatalf("Private(text) = %q", got)
	}
	// Idempotent: routing retries must not stack suffixes.
	if got := Private(Private(TypeText)); got != "text_private" {
		t.Fatalf("double Private = %q", got)
	}
	if !IsPrivate("call_signal_private") || IsPrivate(TypeCallSignal) {
		t.Fatal("IsPrivate misclassifies")
	}
	if got := BaseType("voice_private"); got != TypeVoice {
		t.Fatalf("BaseType(voice_private) = %q", got)
	}
	if got := BaseType(TypeVoice); got != TypeVoice {
		t.Fatalf("BaseType(voice) = %q", got)
	}
}

func TestEffectSignalClassification(t *testing.T) {
	cases := []struct {
		typ  string
		want bool
	}{
		{"fireworks_signal", true},
		{"stress_relief_signal", true},
		{"call_signal", false}, // call signaling is not an effect
		{"text", false},
		{"_signal", true},
	}
	for _, c := range cases {
		if got := IsEffectSignal(c.typ); got != c.want {
			t.Errorf("IsEffectSignal(%q) = %v, want %v", c.typ, got, c.want)
		}
	}
	if got := EffectName("fireworks_signal"); got != "fireworks" {
		t.Fatalf("EffectName = %q", got)
	}
}

func TestFileChunkClassification(t *testing.T) {
	for _, typ := range []string{TypeFileStart, TypeFileVolume, TypeFileEnd} {
		if !IsFileChunk(typ) {
			t.Errorf("IsFileChunk(%q) = false", typ)
		}
	}
	if IsFileChunk(TypeText) {
		t.Error("IsFileChunk(text) = true")
	}
}

func TestDecodeCallSignal(t *testing.T) {
	mid := "0"
	data := map[string]any{
		"type":      CallICE,
		"candidate": map[string]any{"candidate": "candidate:1", "sdpMid": mid},
	}
	sig, err := DecodeCallSignal(data)
	if err != nil {
		t.Fatalf("DecodeCallSignal: %v", err)
	}
	if sig.Type != CallICE || sig.Candidate == nil || sig.Candidate.Candidate != "candidate:1" {
		t.Fatalf("sig = %+v", sig)
	}
	if sig.Candidate.SDPMid == nil || *sig.Candidate.SDPMid != mid {
		t.Fatalf("sdpMid = %v, want %q", sig.Candidate.SDPMid, mid)
	}

	if _, err := DecodeCallSignal(map[string]any{"sdp": "x"}); err == nil {
		t.Fatal("typeless signal accepted")
	}
	if _, err := DecodeCallSignal(make(chan int)); err == nil {
		t.Fatal("unmarshalable data accepted")
	}
}

func TestDecodeFileMeta(t *testing.T) {
	meta, err := DecodeFileMeta(map[string]any{
		"fileId":      "f-1",
		"fileName":    "notes.txt",
		"fileSize":    float64(42),
		"totalChunks": float64(3),
	})
	if err != nil {
		t.Fatalf("DecodeFileMeta: %v", err)
	}
	if meta.FileID != "f-1" || meta.FileName != "notes.txt" || meta.FileSize != 42 || meta.TotalChunks != 3 {
		t.Fatalf("meta = %+v", meta)
	}

	if _, err := DecodeFileMeta(map[string]any{"fileName": "no-id"}); err == nil {
		t.Fatal("meta without fileId accepted")
	}
}
