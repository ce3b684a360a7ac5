package audio

// Discord voice is decoded to 48 kHz interleaved stereo LINEAR16.
const (
	SampleRateHertz = 48000
	Channels        = 2
	FrameBytes      = SampleRateHertz / 50 * Channels * 2
)

// Mixer merges the opus streams of every speaker in a channel into one PCM
// stream, 20ms per read.
type Mixer interface {
	WriteOpusPacket(userID string, opus []byte)
	ReadMixedPCM(buf []byte) (int, error)
	Close()
}

type MixerFactory func() Mixer
