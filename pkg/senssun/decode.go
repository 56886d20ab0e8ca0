package senssun

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mukowman/ha-ble-senssun-scale/pkg/scale"
)

const (
	minPayloadLen = 15

	// weight block: sign (int8), weight (int16), unused (int16), control (int8)
	weightOffset  = 9
	weightRawPos  = weightOffset + 1
	controlPos    = weightOffset + 5
	stableMask    = 0xA0
	gramsPerCount = 100
)

var (

	// ErrMalformedPayload denotes a notification that cannot be decoded
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnstableReading denotes a measurement the scale has not yet settled on
	ErrUnstableReading = errors.New("unstable reading")
)

// Decode parses a raw notification payload and returns the contained weight if, and only
// if, the scale flagged it as stable
func Decode(data []byte) (scale.Reading, error) {
	if len(data) < minPayloadLen {
		return scale.Reading{}, fmt.Errorf("%w: need at least %d bytes, got %d", ErrMalformedPayload, minPayloadLen, len(data))
	}

	if !isStable(data[controlPos]) {
		return scale.Reading{}, ErrUnstableReading
	}

	weightRaw := int16(binary.BigEndian.Uint16(data[weightRawPos : weightRawPos+2]))

	return scale.Reading{
		WeightGrams: int64(weightRaw) * gramsPerCount,
		Stable:      true,
	}, nil
}

func isStable(ctr byte) bool {
	return ctr&stableMask == stableMask
}
