// Package audio turns the self-describing audio container a client sends
// over the stream into 16kHz mono 16-bit little-endian PCM, and back again
// for providers that want a WAV file on the wire.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// BytesPerSample is fixed by the wire contract: 16-bit PCM.
	BytesPerSample = 2
	// Channels is fixed by the wire contract: mono.
	Channels = 1
)

// ErrOddFrame is returned when a chunk's length isn't 16-bit aligned.
var ErrOddFrame = errors.New("audio: frame is not 16-bit aligned")

// ErrMalformedContainer is returned when a WAV header can't be parsed.
var ErrMalformedContainer = errors.New("audio: malformed container")

// Decoder turns incoming binary frames into 16kHz mono 16-bit PCM. A single
// Decoder is reused for the lifetime of one session; RawPCM can be flipped
// mid-stream by an options message (§6: rawPcm).
type Decoder struct {
	SampleRate int
	RawPCM     bool
}

// NewDecoder returns a Decoder configured for the given sample rate.
func NewDecoder(sampleRate int) *Decoder {
	return &Decoder{SampleRate: sampleRate}
}

// Decode returns 16-bit-aligned PCM from a binary frame. In RawPCM mode the
// frame is assumed to already be raw PCM; otherwise it is parsed as a WAV
// container. An odd-length result after decoding is rejected per §4.1.
func (d *Decoder) Decode(frame []byte) ([]byte, error) {
	var pcm []byte
	if d.RawPCM {
		pcm = frame
	} else {
		parsed, err := DecodeWav(frame)
		if err != nil {
			// Fall back to treating the frame as raw PCM: some clients send
			// headerless chunks after the first WAV-framed chunk established
			// the stream's format.
			if errors.Is(err, ErrMalformedContainer) {
				pcm = frame
			} else {
				return nil, err
			}
		} else {
			pcm = parsed
		}
	}

	if len(pcm)%BytesPerSample != 0 {
		return nil, ErrOddFrame
	}
	return pcm, nil
}

// DecodeWav extracts the PCM payload from a canonical 44-byte-header WAV
// file. It does not resample or remix channels: the caller is expected to
// already be producing 16kHz mono 16-bit audio, per the wire contract in
// spec §6.
func DecodeWav(data []byte) ([]byte, error) {
	if len(data) < wavHeaderSize {
		return nil, ErrMalformedContainer
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, ErrMalformedContainer
	}

	offset := 12
	var dataChunk []byte
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8

		if body+int(chunkSize) > len(data) {
			// Truncated chunk; if it's the data chunk, take what's there.
			if chunkID == "data" {
				dataChunk = data[body:]
			}
			break
		}

		if chunkID == "data" {
			dataChunk = data[body : body+int(chunkSize)]
			break
		}

		offset = body + int(chunkSize)
		if chunkSize%2 == 1 {
			offset++ // chunks are word-aligned
		}
	}

	if dataChunk == nil {
		return nil, fmt.Errorf("%w: no data chunk", ErrMalformedContainer)
	}
	return dataChunk, nil
}

// wavHeaderSize is the canonical 44-byte PCM WAV header DecodeWav/NewWavBuffer
// agree on: no extension chunks, no extra metadata.
const wavHeaderSize = 44

// NewWavBuffer wraps raw 16kHz mono 16-bit PCM in a canonical WAV container,
// the inverse of DecodeWav. Providers that expect a file upload rather than
// a bare PCM body (the hosted transcriber backends) use this to give the
// snapshot a wire format they understand.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(wavHeaderSize + len(pcm))

	byteRate := sampleRate * Channels * BytesPerSample
	blockAlign := uint16(Channels * BytesPerSample)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(wavHeaderSize-8+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))          // fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))           // PCM
	binary.Write(buf, binary.LittleEndian, uint16(Channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(BytesPerSample*8)) // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
