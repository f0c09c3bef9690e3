package extract

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

const wavHeaderSize = 44

// WAVInfo describes a parsed PCM WAV file.
type WAVInfo struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BitsPerSample uint16
	DataOffset    int
	DataSize      int
}

// Duration returns the playable length of the data chunk.
func (w WAVInfo) Duration() time.Duration {
	if w.ByteRate == 0 {
		return 0
	}
	return time.Duration(int64(w.DataSize) * int64(time.Second) / int64(w.ByteRate))
}

// ParseWAV walks the RIFF chunks of a WAV file. ffmpeg inserts a LIST chunk
// between fmt and data, so the fixed 44-byte layout cannot be assumed.
func ParseWAV(data []byte) (WAVInfo, error) {
	var info WAVInfo
	if len(data) < 12 {
		return info, fmt.Errorf("WAV data too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return info, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return info, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	haveFmt := false
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return info, fmt.Errorf("invalid WAV file: short fmt chunk")
			}
			info.AudioFormat = binary.LittleEndian.Uint16(data[body : body+2])
			info.NumChannels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			info.SampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			info.ByteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
			info.BitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return info, fmt.Errorf("invalid WAV file: data before fmt chunk")
			}
			// Streaming writers leave the size as 0 or 0xFFFFFFFF; trust the file length.
			if size == 0 || body+size > len(data) {
				size = len(data) - body
			}
			info.DataOffset = body
			info.DataSize = size
			return info, nil
		}

		pos = body + size
		if size%2 == 1 {
			pos++ // chunks are word aligned
		}
	}
	return info, fmt.Errorf("invalid WAV file: missing data chunk")
}

// ValidateMono16 checks that the file is the mono 16-bit PCM the engines expect.
func (w WAVInfo) ValidateMono16() error {
	if w.AudioFormat != 1 {
		return fmt.Errorf("unsupported audio format: %d (only PCM is supported)", w.AudioFormat)
	}
	if w.BitsPerSample != 16 {
		return fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", w.BitsPerSample)
	}
	if w.NumChannels != 1 {
		return fmt.Errorf("unsupported channel count: %d (only mono is supported)", w.NumChannels)
	}
	return nil
}

// EncodeWAV encodes PCM-16 mono samples into a WAV file.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	dataSize := uint32(len(samples) * 2)

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*2))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVEfmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataSize)
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	return buf.Bytes(), nil
}

// Silence returns a mono 16-bit WAV of the given length.
func Silence(d time.Duration, sampleRate int) []byte {
	n := int(int64(d) * int64(sampleRate) / int64(time.Second))
	out, _ := EncodeWAV(make([]int16, n), sampleRate)
	return out
}
