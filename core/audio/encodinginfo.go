package audio

import (
	"strconv"
	"time"
)

const (
	DefaultSampleRate = 16000
	DefaultFormat     = "linear16"

	// DefaultChunkDuration is the nominal duration of a single capture chunk.
	DefaultChunkDuration = 100 * time.Millisecond
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: encodingFormat(DefaultFormat)}
}

type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// BytesPerSecond returns the raw throughput of the encoding.
func (e EncodingInfo) BytesPerSecond() int {
	return e.SampleRate * e.Format.ByteSize()
}

// Duration returns how long the passed number of bytes plays for.
func (e EncodingInfo) Duration(byteLen int) time.Duration {
	perSecond := e.BytesPerSecond()
	if perSecond <= 0 {
		return 0
	}
	return time.Duration(float64(byteLen) / float64(perSecond) * float64(time.Second))
}

// Bytes returns how many bytes the passed duration of audio occupies.
func (e EncodingInfo) Bytes(duration time.Duration) int {
	return int(float64(duration) / float64(time.Second) * float64(e.BytesPerSecond()))
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)

// MimeType returns the PCM mime type with the sample rate attached, e.g.
// "audio/pcm;rate=16000".
func (e EncodingInfo) MimeType() string {
	return "audio/pcm;rate=" + strconv.Itoa(e.SampleRate)
}
