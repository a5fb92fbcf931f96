package netinput

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	payload := []byte("input-bytes")
	wire := EncodeFrame(42, 7, payload)

	tickIndex, playerID, got, err := decodeFrame(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tickIndex != 42 {
		t.Fatalf("tickIndex = %d, want 42", tickIndex)
	}
	if playerID != 7 {
		t.Fatalf("playerID = %d, want 7", playerID)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}
}

func TestDecodeFrameRejectsTruncatedData(t *testing.T) {
	if _, _, _, err := decodeFrame([]byte{0x01, 0x02}); err == nil {
		t.Fatalf("expected truncated frame to fail to decode")
	}
}
