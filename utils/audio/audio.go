// Package audio converts synthesized speech between the encodings a session can emit.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"debatekit/core"

	"github.com/zaf/g711"
)

var wavHeaderPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 64))
	},
}

func getWavHeaderBuffer() *bytes.Buffer {
	return wavHeaderPool.Get().(*bytes.Buffer)
}

func putWavHeaderBuffer(buf *bytes.Buffer) {
	buf.Reset()
	wavHeaderPool.Put(buf)
}

// PCMBytesToULaw converts 16-bit little endian PCM to G.711 µ-law.
func PCMBytesToULaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("PCM byte slice length must be even (16-bit samples)")
	}
	return g711.EncodeUlaw(pcm), nil
}

// ULawBytesToPCM converts G.711 µ-law to 16-bit little endian PCM.
func ULawBytesToPCM(uBytes []byte) []byte {
	return g711.DecodeUlaw(uBytes)
}

// PCMBytesToWavBytes wraps 16-bit little endian PCM in a RIFF/WAVE container.
func PCMBytesToWavBytes(pcm []byte, numChannels, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, errors.New("PCM data is empty")
	}
	if numChannels <= 0 || numChannels > 2 {
		return nil, errors.New("only mono (1) or stereo (2) channels supported")
	}
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	if len(pcm)%(2*numChannels) != 0 {
		return nil, errors.New("PCM data length doesn't match channel count")
	}

	buf := getWavHeaderBuffer()
	defer putWavHeaderBuffer(buf)

	const (
		bitsPerSample  = 16
		audioFormatPCM = 1
		subchunk1Size  = 16
	)

	blockAlign := numChannels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign
	dataSize := len(pcm)
	fileSize := 36 + dataSize

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(fileSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(subchunk1Size))
	binary.Write(buf, binary.LittleEndian, uint16(audioFormatPCM))
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))

	result := make([]byte, buf.Len()+len(pcm))
	copy(result, buf.Bytes())
	copy(result[buf.Len():], pcm)
	return result, nil
}

// ValidatePCMData checks that pcm holds whole 16-bit frames for numChannels.
func ValidatePCMData(pcm []byte, numChannels int) error {
	if len(pcm) == 0 {
		return errors.New("PCM data is empty")
	}
	if len(pcm)%2 != 0 {
		return errors.New("PCM data must have even length (16-bit samples)")
	}
	if numChannels <= 0 {
		return errors.New("invalid number of channels")
	}
	if len(pcm)%(2*numChannels) != 0 {
		return errors.New("PCM data length doesn't match channel count")
	}
	return nil
}

// StripWAVHeaderIfPresent returns the data chunk of a RIFF/WAVE buffer,
// or the input unchanged when it is not a WAV file.
func StripWAVHeaderIfPresent(chunk []byte) ([]byte, error) {
	if len(chunk) < 12 {
		return chunk, nil
	}
	if !bytes.HasPrefix(chunk, []byte("RIFF")) || !bytes.Equal(chunk[8:12], []byte("WAVE")) {
		return chunk, nil
	}

	i := 12
	for i+8 <= len(chunk) {
		chunkID := string(chunk[i : i+4])
		chunkSize := binary.LittleEndian.Uint32(chunk[i+4 : i+8])
		next := i + 8 + int(chunkSize)

		if chunkID == "data" {
			if next > len(chunk) {
				return nil, errors.New("invalid WAV: data chunk exceeds buffer length")
			}
			return chunk[i+8 : next], nil
		}

		// chunks are padded to an even boundary
		if chunkSize%2 != 0 {
			next++
		}
		if next > len(chunk) {
			break
		}
		i = next
	}
	return nil, errors.New("invalid WAV: data chunk not found")
}

// ToPCM decodes any supported chunk to raw 16-bit PCM.
func ToPCM(input core.AudioChunk) ([]byte, error) {
	switch input.Format {
	case core.PCM:
		return input.Data, nil
	case core.ULAW:
		return ULawBytesToPCM(input.Data), nil
	case core.WAV:
		return StripWAVHeaderIfPresent(input.Data)
	default:
		return nil, fmt.Errorf("unsupported format %s for PCM conversion", input.Format)
	}
}

// Encode converts input to target, keeping sample rate and channel count.
func Encode(input core.AudioChunk, target core.AudioEncodingFormat) (core.AudioChunk, error) {
	if input.Format == target {
		return input, nil
	}
	pcm, err := ToPCM(input)
	if err != nil {
		return core.AudioChunk{}, err
	}
	if err := ValidatePCMData(pcm, input.Channels); err != nil {
		return core.AudioChunk{}, err
	}

	out := input
	switch target {
	case core.PCM:
		out.Data = pcm
	case core.ULAW:
		if out.Data, err = PCMBytesToULaw(pcm); err != nil {
			return core.AudioChunk{}, err
		}
	case core.WAV:
		if out.Data, err = PCMBytesToWavBytes(pcm, input.Channels, input.SampleRate); err != nil {
			return core.AudioChunk{}, err
		}
	default:
		return core.AudioChunk{}, fmt.Errorf("unsupported target format %s", target)
	}
	out.Format = target
	return out, nil
}
