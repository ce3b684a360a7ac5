//go:build !opus

package audio

import (
	"log/slog"

	"github.com/foxseedlab/streamkoshin/internal/audio"
)

// Without the opus build tag voice audio cannot be decoded; the mixer
// yields no PCM.
type noopMixer struct{}

func NewOpusMixer() audio.Mixer {
	slog.Warn("built without opus support; discord voice will not be transcribed")
	return &noopMixer{}
}

func (m *noopMixer) WriteOpusPacket(_ string, _ []byte) {}

func (m *noopMixer) ReadMixedPCM(_ []byte) (int, error) {
	return 0, nil
}

func (m *noopMixer) Close() {}
