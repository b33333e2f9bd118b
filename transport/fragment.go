package transport

import (
	"github.com/opd-ai/langroup/limits"
)

// Split cuts payload into fragments of at most maxPayload bytes. An empty
// payload yields a single empty fragment. The returned slices alias payload.
func Split(payload []byte, maxPayload int) ([][]byte, error) {
	if err := limits.ValidateMessageSize(payload, maxPayload); err != nil {
		return nil, err
	}

	if len(payload) == 0 {
		return [][]byte{{}}, nil
	}

	count := (len(payload) + maxPayload - 1) / maxPayload
	fragments := make([][]byte, 0, count)
	for start := 0; start < len(payload); start += maxPayload {
		end := start + maxPayload
		if end > len(payload) {
			end = len(payload)
		}
		fragments = append(fragments, payload[start:end])
	}
	return fragments, nil
}
