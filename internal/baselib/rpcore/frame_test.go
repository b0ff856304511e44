package rpcore

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

// TestFrameRoundTripProperty verifies DecodeFrame inverts EncodeFrame for
// arbitrary senders, endpoint names and payloads, including empty ones. The
// transport layer depends on this to recover routing information from the
// opaque frames it carries.
func TestFrameRoundTripProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		sender := Address{
			Host: rapid.String().Draw(t, "host"),
			Port: rapid.IntRange(0, 65535).Draw(t, "port"),
		}
		name := rapid.String().Draw(t, "name")
		payload := rapid.SliceOf(rapid.Byte()).Draw(t, "payload")

		frame := EncodeFrame(sender, name, payload)
		gotSender, gotName, gotPayload, err := DecodeFrame(frame)
		if err != nil {
			t.Fatalf("decoding frame: %v", err)
		}

		if gotSender != sender {
			t.Fatalf("sender mismatch: %v != %v", gotSender, sender)
		}
		if gotName != name {
			t.Fatalf("name mismatch: %q != %q", gotName, name)
		}
		if !bytes.Equal(gotPayload, payload) {
			t.Fatalf("payload mismatch: %x != %x", gotPayload, payload)
		}
	})
}
