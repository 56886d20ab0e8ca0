package senssun

import (
	"encoding/hex"
	"errors"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("invalid test payload `%s`: %s", s, err)
	}
	return b
}

func TestDecode(t *testing.T) {
	for _, cs := range []struct {
		name     string
		payload  string
		expected int64
		err      error
	}{
		{name: "stable", payload: "0000000000000000000100050000a0", expected: 500},
		{name: "stable_all_bits", payload: "0000000000000000000102d40000ff", expected: 72400},
		{name: "trailing_bytes", payload: "0000000000000000000100050000a0ffff", expected: 500},
		{name: "negative", payload: "00000000000000000001fffb0000a0", expected: -500},
		{name: "zero", payload: "0000000000000000000000000000a0", expected: 0},
		{name: "unstable", payload: "000000000000000000010005000000", err: ErrUnstableReading},
		{name: "only_0x80", payload: "000000000000000000010005000080", err: ErrUnstableReading},
		{name: "only_0x20", payload: "000000000000000000010005000020", err: ErrUnstableReading},
		{name: "too_short", payload: "0000000000000000000100050000", err: ErrMalformedPayload},
		{name: "empty", payload: "", err: ErrMalformedPayload},
	} {
		t.Run(cs.name, func(t *testing.T) {
			reading, err := Decode(mustHex(t, cs.payload))
			if cs.err != nil {
				if !errors.Is(err, cs.err) {
					t.Fatalf("unexpected error: want %v, have %v", cs.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error decoding payload: %s", err)
			}
			if !reading.Stable {
				t.Fatalf("expected stable reading")
			}
			if reading.WeightGrams != cs.expected {
				t.Fatalf("unexpected weight: want %d, have %d", cs.expected, reading.WeightGrams)
			}
		})
	}
}

func TestDecodeShortPayloads(t *testing.T) {
	buf := make([]byte, minPayloadLen)
	buf[controlPos] = 0xA0
	for i := 0; i < minPayloadLen; i++ {
		if _, err := Decode(buf[:i]); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("expected malformed payload error for length %d, got %v", i, err)
		}
	}
	if _, err := Decode(buf); err != nil {
		t.Fatalf("unexpected error for minimum length payload: %s", err)
	}
}

func TestDecodeControlBits(t *testing.T) {
	buf := make([]byte, minPayloadLen)
	buf[weightRawPos+1] = 7
	for ctr := 0; ctr < 256; ctr++ {
		buf[controlPos] = byte(ctr)
		reading, err := Decode(buf)
		if ctr&0xA0 == 0xA0 {
			if err != nil || reading.WeightGrams != 700 {
				t.Fatalf("expected 700g for control byte %#x, got %d / %v", ctr, reading.WeightGrams, err)
			}
			continue
		}
		if !errors.Is(err, ErrUnstableReading) {
			t.Fatalf("expected unstable reading for control byte %#x, got %v", ctr, err)
		}
	}
}
