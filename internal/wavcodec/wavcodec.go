// Package wavcodec converts between raw 16-bit PCM, WAV containers and their
// base64 transport form.
package wavcodec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const audioFormatPCM = 1

// ErrNotWAV is returned when a payload has no RIFF/WAVE header
var ErrNotWAV = errors.New("not a wav payload")

// PCM is decoded 16-bit interleaved audio
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Bytes returns the samples as little-endian bytes
func (p PCM) Bytes() []byte {
	return Int16ToBytes(p.Samples)
}

// Duration returns the playback length in seconds
func (p PCM) Duration() float64 {
	if p.SampleRate == 0 || p.Channels == 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate*p.Channels)
}

// IsWAV reports whether data starts with a RIFF/WAVE header
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// Encode wraps little-endian 16-bit PCM into a WAV container
func Encode(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("odd pcm length %d", len(pcm))
	}

	samples := BytesToInt16(pcm)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	w := &writeSeeker{}
	e := wav.NewEncoder(w, sampleRate, 16, channels, audioFormatPCM)
	if err := e.Write(&audio.IntBuffer{
		Data: data,
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		SourceBitDepth: 16,
	}); err != nil {
		return nil, fmt.Errorf("writing wav samples failed: %w", err)
	}
	if err := e.Close(); err != nil {
		return nil, fmt.Errorf("closing wav encoder failed: %w", err)
	}
	return w.buf, nil
}

// Decode reads a WAV payload into 16-bit samples, rescaling other bit depths
func Decode(data []byte) (PCM, error) {
	if !IsWAV(data) {
		return PCM{}, ErrNotWAV
	}

	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return PCM{}, fmt.Errorf("invalid wav file")
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("reading wav samples failed: %w", err)
	}

	return PCM{
		Samples:    toInt16(buf.Data, int(d.BitDepth)),
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
	}, nil
}

// NewDecoder opens a WAV stream for chunked reads
func NewDecoder(r io.ReadSeeker) (*wav.Decoder, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, ErrNotWAV
	}
	if err := d.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("seeking to pcm chunk failed: %w", err)
	}
	return d, nil
}

// ReadChunk reads up to frames frames from d as little-endian 16-bit PCM.
// It returns io.EOF once the stream is drained.
func ReadChunk(d *wav.Decoder, frames int) ([]byte, error) {
	buf := &audio.IntBuffer{
		Data:   make([]int, frames*int(d.NumChans)),
		Format: d.Format(),
	}
	n, err := d.PCMBuffer(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return Int16ToBytes(toInt16(buf.Data[:n], int(d.BitDepth))), nil
}

// BytesToInt16 reads little-endian 16-bit samples
func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// Int16ToBytes writes samples as little-endian bytes
func Int16ToBytes(in []int16) []byte {
	out := make([]byte, len(in)*2)
	for i, v := range in {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

func toInt16(data []int, bitDepth int) []int16 {
	out := make([]int16, len(data))
	for i, v := range data {
		switch bitDepth {
		case 8:
			out[i] = int16((v - 128) << 8)
		case 24:
			out[i] = int16(v >> 8)
		case 32:
			out[i] = int16(v >> 16)
		default:
			out[i] = int16(v)
		}
	}
	return out
}

// writeSeeker is an in-memory io.WriteSeeker for the wav encoder
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if end := w.pos + len(p); end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(w.pos) + offset
	case io.SeekEnd:
		next = int64(len(w.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative position %d", next)
	}
	w.pos = int(next)
	return next, nil
}
