package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV writes b to path as 16-bit PCM WAV.
func WriteWAV(path string, b *Buffer) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	encoder := wav.NewEncoder(file, b.SampleRate, 16, b.Channels, wavFormatPCM)

	intBuf := &goaudio.IntBuffer{
		Data:           make([]int, len(b.Samples)),
		Format:         &goaudio.Format{SampleRate: b.SampleRate, NumChannels: b.Channels},
		SourceBitDepth: 16,
	}
	for i, s := range b.Samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		intBuf.Data[i] = int(s * 32767)
	}

	if err := encoder.Write(intBuf); err != nil {
		encoder.Close()
		file.Close()
		return fmt.Errorf("writing WAV samples: %w", err)
	}
	if err := encoder.Close(); err != nil {
		file.Close()
		return fmt.Errorf("finalizing WAV header: %w", err)
	}
	return file.Close()
}

// ReadWAV decodes a PCM WAV file.
func ReadWAV(path string) (*Buffer, error) {
	return decodeWAV(path)
}
