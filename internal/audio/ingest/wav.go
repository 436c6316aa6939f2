package ingest

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// wavData is the decoded payload of a RIFF/WAVE container restricted to
// 16-bit integer PCM, the only encoding the pipeline accepts.
type wavData struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

const wavHeaderMin = 44

func decodeWAV(raw []byte) (*wavData, error) {
	if len(raw) < wavHeaderMin {
		return nil, fmt.Errorf("wav: file too short (%d bytes)", len(raw))
	}
	if !bytes.HasPrefix(raw, []byte("RIFF")) || !bytes.Equal(raw[8:12], []byte("WAVE")) {
		return nil, fmt.Errorf("wav: missing RIFF/WAVE header")
	}

	var (
		sampleRate    int
		channels      int
		bitsPerSample int
		audioFormat   int
		data          []byte
		haveFmt       bool
	)

	// Walk the chunk list. Chunks are word-aligned; odd sizes carry a pad
	// byte that is not counted in the declared size.
	off := 12
	for off+8 <= len(raw) {
		id := string(raw[off : off+4])
		size := int(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(raw) {
			return nil, fmt.Errorf("wav: chunk %q overruns file", id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("wav: fmt chunk too small (%d bytes)", size)
			}
			audioFormat = int(binary.LittleEndian.Uint16(raw[body : body+2]))
			channels = int(binary.LittleEndian.Uint16(raw[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(raw[body+14 : body+16]))
			haveFmt = true
		case "data":
			data = raw[body : body+size]
		}
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !haveFmt {
		return nil, fmt.Errorf("wav: missing fmt chunk")
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("wav: missing data chunk")
	}
	if audioFormat != 1 {
		return nil, fmt.Errorf("wav: unsupported audio format %d (PCM required)", audioFormat)
	}
	if bitsPerSample != 16 {
		return nil, fmt.Errorf("wav: unsupported bit depth %d (16-bit required)", bitsPerSample)
	}
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("wav: unsupported channel count %d", channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wav: invalid sample rate %d", sampleRate)
	}

	frameBytes := 2 * channels
	data = data[:len(data)/frameBytes*frameBytes]
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}

	return &wavData{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    samples,
	}, nil
}

// downmixMono averages L and R into a single channel.
func downmixMono(samples []int16) []int16 {
	frames := len(samples) / 2
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		l := int32(samples[i*2])
		r := int32(samples[i*2+1])
		out[i] = int16((l + r) / 2)
	}
	return out
}
