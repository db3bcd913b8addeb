package discord

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/vnutour/tourbot/pkg/audio"
)

// maxOpusPacket bounds the encoded size of one 20 ms frame.
const maxOpusPacket = audio.FrameBytes

// opusEncoder wraps a gopus Opus encoder for one playback stream. Encoder
// state carries across frames, so each stream gets its own.
type opusEncoder struct {
	enc *gopus.Encoder
}

// newOpusEncoder creates a new Opus encoder configured for Discord audio.
func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(audio.SampleRate, audio.Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode encodes one frame of interleaved s16le PCM into an Opus packet.
func (e *opusEncoder) encode(pcm []byte) ([]byte, error) {
	opus, err := e.enc.Encode(audio.BytesToInt16s(pcm), audio.FrameSamples, maxOpusPacket)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return opus, nil
}
