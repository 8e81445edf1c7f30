package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always decodes to 16-bit stereo PCM.
const mp3BytesPerFrame = 4

const (
	riffHeaderSize  = 12
	chunkHeaderSize = 8
	fmtByteRateOff  = 8
)

var (
	// ErrUnknownDuration is returned for payloads whose length cannot be probed.
	ErrUnknownDuration = errors.New("unknown audio duration")
	// ErrMalformedWAV is returned for WAV payloads with a broken header.
	ErrMalformedWAV = errors.New("malformed wav payload")
)

// ProbeDuration returns the playback length of a wav or mp3 payload.
func ProbeDuration(data []byte, mimeType string) (time.Duration, error) {
	switch {
	case strings.Contains(mimeType, "wav"):
		return wavDuration(data)
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return mp3Duration(data)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownDuration, mimeType)
	}
}

func mp3Duration(data []byte) (time.Duration, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to decode mp3 payload: %w", err)
	}

	length := decoder.Length()
	if length <= 0 || decoder.SampleRate() <= 0 {
		return 0, ErrUnknownDuration
	}

	frames := length / mp3BytesPerFrame

	return time.Duration(frames) * time.Second / time.Duration(decoder.SampleRate()), nil
}

// wavDuration walks the RIFF chunks for the byte rate in "fmt " and the
// length of "data".
func wavDuration(data []byte) (time.Duration, error) {
	if len(data) < riffHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, ErrMalformedWAV
	}

	var (
		byteRate uint32
		dataSize int64
		found    bool
	)

	offset := riffHeaderSize
	for offset+chunkHeaderSize <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int64(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + chunkHeaderSize

		switch chunkID {
		case "fmt ":
			if body+fmtByteRateOff+4 > len(data) {
				return 0, ErrMalformedWAV
			}

			byteRate = binary.LittleEndian.Uint32(data[body+fmtByteRateOff : body+fmtByteRateOff+4])
		case "data":
			// Streamed writers leave the size unset; trust what is present.
			remaining := int64(len(data) - body)
			dataSize = min(chunkSize, remaining)
			found = true
		}

		if found && byteRate > 0 {
			break
		}

		next := int64(body) + chunkSize + chunkSize%2
		if next > int64(len(data)) {
			break
		}

		offset = int(next)
	}

	if !found || byteRate == 0 {
		return 0, ErrMalformedWAV
	}

	return time.Duration(dataSize) * time.Second / time.Duration(byteRate), nil
}
