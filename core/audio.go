package core

type AudioEncodingFormat int

const (
	PCM  AudioEncodingFormat = iota // 16-bit little endian pulse-code modulation.
	ULAW                            // G.711 μ-law.
	WAV                             // PCM wrapped in a RIFF/WAVE container.
)

var audioFormatNames = map[AudioEncodingFormat]string{
	PCM:  "pcm",
	ULAW: "ulaw",
	WAV:  "wav",
}

func (f AudioEncodingFormat) String() string {
	if name, ok := audioFormatNames[f]; ok {
		return name
	}
	return "unknown"
}

// MimeType is what the rendering layer puts on an <audio> element or data URL.
func (f AudioEncodingFormat) MimeType() string {
	switch f {
	case WAV:
		return "audio/wav"
	case ULAW:
		return "audio/basic"
	default:
		return "audio/pcm"
	}
}

// ParseAudioFormat maps "pcm", "ulaw" or "wav" to a format. The second value is false for unknown names.
func ParseAudioFormat(name string) (AudioEncodingFormat, bool) {
	for f, n := range audioFormatNames {
		if n == name {
			return f, true
		}
	}
	return PCM, false
}

type AudioChunk struct {
	Data       []byte              // Raw audio data.
	SampleRate int                 // Sample rate of the audio data.
	Channels   int                 // Number of audio channels.
	Format     AudioEncodingFormat // Encoding format of the audio data.
}

func (ac *AudioChunk) GetDurationInSeconds() float64 {
	if ac.SampleRate == 0 || ac.Channels == 0 {
		return 0.0
	}
	bytesPerSample := 2
	if ac.Format == ULAW {
		bytesPerSample = 1
	}
	totalSamples := len(ac.Data) / (bytesPerSample * ac.Channels)
	return float64(totalSamples) / float64(ac.SampleRate)
}

// AudioResultKind distinguishes playable audio from a silent render.
type AudioResultKind string

const (
	AudioKindAudio  AudioResultKind = "audio"
	AudioKindSilent AudioResultKind = "silent"
)

// AudioResult is what the voice router hands to the rendering layer for one event.
// Silent results carry a Reason and no data; text-only playback is always valid.
type AudioResult struct {
	Kind     AudioResultKind
	Audio    AudioChunk
	Backend  string // backend that produced the audio, e.g. "elevenlabs"
	Degraded bool   // produced by the fallback backend after the preferred one failed
	Reason   string // why the result is silent or degraded
}

func NewAudioResult(chunk AudioChunk, backend string) AudioResult {
	return AudioResult{Kind: AudioKindAudio, Audio: chunk, Backend: backend}
}

func NewSilentResult(reason string) AudioResult {
	return AudioResult{Kind: AudioKindSilent, Reason: reason}
}

func (r AudioResult) IsSilent() bool {
	return r.Kind == AudioKindSilent
}
