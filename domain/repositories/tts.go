package repositories

import "context"

// VoiceOptions selects the synthesized voice
type VoiceOptions struct {
	Gender   string
	Language string
}

type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string, voice VoiceOptions) (<-chan []byte, error)
}
