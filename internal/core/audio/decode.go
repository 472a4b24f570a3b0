package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"
)

// errNeedsConversion marks a native container holding an encoding the
// in-process decoders do not handle, such as float or compressed WAV.
var errNeedsConversion = errors.New("encoding requires conversion")

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// decodeNative decodes a natively supported file into interleaved float32 samples.
func decodeNative(path string, format Format) (*Buffer, error) {
	switch format {
	case FormatWAV:
		return decodeWAV(path)
	case FormatFLAC:
		return decodeFLAC(path)
	case FormatMP3:
		return decodeMP3(path)
	case FormatOGG:
		return decodeOGG(path)
	case FormatAIFF:
		return decodeAIFF(path)
	}
	return nil, fmt.Errorf("%s is not a native format", format)
}

func decodeWAV(path string) (*Buffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file")
	}
	if decoder.WavAudioFormat != wavFormatPCM && decoder.WavAudioFormat != wavFormatExtensible {
		return nil, fmt.Errorf("WAV audio format %d: %w", decoder.WavAudioFormat, errNeedsConversion)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("reading WAV samples: %w", err)
	}
	return fromIntBuffer(buf, int(decoder.BitDepth), int(decoder.NumChans), int(decoder.SampleRate), false)
}

func decodeAIFF(path string) (*Buffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := aiff.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid AIFF file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("reading AIFF samples: %w", err)
	}
	return fromIntBuffer(buf, int(decoder.BitDepth), int(decoder.NumChans), int(decoder.SampleRate), true)
}

// fromIntBuffer scales go-audio integer PCM to float32. Header values are
// used when the buffer's own format is incomplete. 8-bit samples are unsigned
// in WAV and signed in AIFF; signed8 selects the latter.
func fromIntBuffer(buf *goaudio.IntBuffer, bitDepth, channels, sampleRate int, signed8 bool) (*Buffer, error) {
	if buf.SourceBitDepth > 0 {
		bitDepth = buf.SourceBitDepth
	}
	if buf.Format != nil {
		if buf.Format.NumChannels > 0 {
			channels = buf.Format.NumChannels
		}
		if buf.Format.SampleRate > 0 {
			sampleRate = buf.Format.SampleRate
		}
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
	if channels <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("invalid stream header (%d channels, %d Hz)", channels, sampleRate)
	}

	samples := make([]float32, len(buf.Data))
	switch {
	case bitDepth == 8 && signed8:
		for i, v := range buf.Data {
			samples[i] = float32(int8(uint8(v))) / 128
		}
	case bitDepth == 8:
		for i, v := range buf.Data {
			samples[i] = float32(v-128) / 128
		}
	default:
		maxVal := float32(int64(1) << (bitDepth - 1))
		for i, v := range buf.Data {
			samples[i] = float32(v) / maxVal
		}
	}

	// Drop a trailing partial frame.
	samples = samples[:len(samples)/channels*channels]
	return &Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// decodeMP3 always yields 16-bit stereo; go-mp3 upmixes mono streams.
func decodeMP3(path string) (*Buffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		return nil, err
	}

	sampleRate := decoder.SampleRate()
	data, err := io.ReadAll(decoder)
	if err != nil {
		return nil, err
	}

	const maxInt16 = 32768.0
	numSamples := len(data) / 2
	numSamples -= numSamples % 2
	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		samples[i] = float32(v) / maxInt16
	}

	return &Buffer{Samples: samples, SampleRate: sampleRate, Channels: 2}, nil
}

func decodeFLAC(path string) (*Buffer, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	sampleRate := int(stream.Info.SampleRate)
	nChannels := int(stream.Info.NChannels)
	bitsPerSample := int(stream.Info.BitsPerSample)
	if nChannels == 0 || bitsPerSample == 0 {
		return nil, fmt.Errorf("invalid FLAC stream info")
	}
	maxVal := float32(int64(1) << (bitsPerSample - 1))

	samples := make([]float32, 0, int(stream.Info.NSamples)*nChannels)
	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		nSamples := len(frame.Subframes[0].Samples)
		for i := 0; i < nSamples; i++ {
			for ch := 0; ch < nChannels; ch++ {
				samples = append(samples, float32(frame.Subframes[ch].Samples[i])/maxVal)
			}
		}
	}

	return &Buffer{Samples: samples, SampleRate: sampleRate, Channels: nChannels}, nil
}

func decodeOGG(path string) (*Buffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	samples, format, err := oggvorbis.ReadAll(file)
	if err != nil {
		return nil, err
	}
	if format.Channels <= 0 {
		return nil, fmt.Errorf("invalid Vorbis header")
	}
	return &Buffer{Samples: samples, SampleRate: format.SampleRate, Channels: format.Channels}, nil
}
