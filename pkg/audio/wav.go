// Package audio contains the small amount of RIFF/WAVE handling the gateway
// needs: encoding synthetic PCM for the in-process backend and sanity-checking
// uploaded reference clips.
package audio

import (
	"encoding/binary"
	"errors"
)

// BitsPerSample is the sample width produced by [EncodeWAV].
const BitsPerSample = 16

// ErrNotWAV is returned by [ParseWAV] when data is not a RIFF/WAVE container.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE container")

// Info holds the format metadata extracted from a RIFF/WAVE header.
type Info struct {
	DataOffset    int // byte offset of the first PCM sample
	DataSize      int // length of the data chunk in bytes
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// EncodeWAV wraps 16-bit signed little-endian PCM in a canonical 44-byte
// RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * BitsPerSample / 8
	blockAlign := channels * BitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)
	le := binary.LittleEndian

	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], 1) // PCM
	le.PutUint16(buf[22:24], uint16(channels))
	le.PutUint32(buf[24:28], uint32(sampleRate))
	le.PutUint32(buf[28:32], uint32(byteRate))
	le.PutUint16(buf[32:34], uint16(blockAlign))
	le.PutUint16(buf[34:36], BitsPerSample)

	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)
	return buf
}

// ParseWAV walks the RIFF chunks of data and returns the format and the
// location of the data chunk. The fmt chunk size may vary, so offsets are
// never assumed.
func ParseWAV(data []byte) (Info, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Info{}, ErrNotWAV
	}

	var info Info
	foundFmt := false
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))

		switch id {
		case "fmt ":
			if size < 16 || offset+8+16 > len(data) {
				return Info{}, errors.New("audio: truncated fmt chunk")
			}
			f := data[offset+8:]
			info.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return Info{}, errors.New("audio: data chunk before fmt chunk")
			}
			info.DataOffset = offset + 8
			info.DataSize = min(size, len(data)-info.DataOffset)
			return info, nil
		}

		// Chunks are word aligned.
		offset += 8 + size
		if size%2 != 0 {
			offset++
		}
	}
	return Info{}, errors.New("audio: missing data chunk")
}
