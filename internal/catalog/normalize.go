package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnrecognizedShape is returned when a speaker listing is neither accepted layout.
var ErrUnrecognizedShape = errors.New("unrecognized speaker list shape")

// speakersEnvelope is the wrapped layout: {"speakers": [...], "count": n}.
type speakersEnvelope struct {
	Speakers *[]string `json:"speakers"`
}

// NormalizeSpeakers is a compatibility shim for the two listing layouts the
// service has shipped: a bare JSON array of ids, or an object wrapping that
// array under "speakers". Both yield the ids in service order.
func NormalizeSpeakers(body []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnrecognizedShape)
	}

	switch trimmed[0] {
	case '[':
		var ids []string

		err := json.Unmarshal(trimmed, &ids)
		if err != nil {
			return nil, fmt.Errorf("failed to decode speaker array: %w", err)
		}

		return ids, nil
	case '{':
		var envelope speakersEnvelope

		err := json.Unmarshal(trimmed, &envelope)
		if err != nil {
			return nil, fmt.Errorf("failed to decode speaker object: %w", err)
		}

		if envelope.Speakers == nil {
			return nil, fmt.Errorf("%w: object has no \"speakers\" field", ErrUnrecognizedShape)
		}

		return *envelope.Speakers, nil
	default:
		return nil, fmt.Errorf("%w: %.32q", ErrUnrecognizedShape, trimmed)
	}
}
