package transcriber

import (
	"context"
	"time"
)

type Encoding string

const EncodingLinear16 Encoding = "LINEAR16"

// StreamConfig is sent upstream as the first message of every stream.
type StreamConfig struct {
	LanguageCode      string
	SampleRateHertz   int
	AudioChannelCount int
	Encoding          Encoding
	InterimResults    bool
}

// BytesPerMillisecond is the LINEAR16 byte rate for this configuration.
func (c StreamConfig) BytesPerMillisecond() float64 {
	return float64(c.SampleRateHertz*c.AudioChannelCount*2) / 1000
}

// AudioDuration converts a LINEAR16 payload size into audio time.
func (c StreamConfig) AudioDuration(n int) time.Duration {
	bpms := c.BytesPerMillisecond()
	if bpms <= 0 {
		return 0
	}
	return time.Duration(float64(n) / bpms * float64(time.Millisecond))
}

type Alternative struct {
	Transcript string
	Confidence float64
}

// Result end offsets are relative to the stream that produced them.
type Result struct {
	Alternatives []Alternative
	IsFinal      bool
	EndOffset    time.Duration
}

type Response struct {
	Results []Result
}

// Stream is one duplex upstream connection.
type Stream interface {
	Send(pcm []byte) error
	// CloseSend half-closes the send side and returns without waiting for the far end.
	CloseSend() error
	// Cancel abandons the stream. Recv returns an error once Cancel has returned.
	Cancel()
	Recv() (*Response, error)
}

type Transport interface {
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}
