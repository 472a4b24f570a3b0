package audio

// Remix converts b to the given channel count. Downmixing averages all
// channels; upmixing from mono copies the signal to every channel.
func Remix(b *Buffer, channels int) *Buffer {
	if b.Channels == channels || channels <= 0 {
		return b
	}

	frames := b.Frames()
	out := make([]float32, frames*channels)

	switch {
	case channels == 1:
		inv := 1 / float32(b.Channels)
		for i := 0; i < frames; i++ {
			var sum float32
			for ch := 0; ch < b.Channels; ch++ {
				sum += b.Samples[i*b.Channels+ch]
			}
			out[i] = sum * inv
		}
	case b.Channels == 1:
		for i := 0; i < frames; i++ {
			for ch := 0; ch < channels; ch++ {
				out[i*channels+ch] = b.Samples[i]
			}
		}
	default:
		// Keep the shared leading channels and fold extras into the last one.
		for i := 0; i < frames; i++ {
			src := b.Samples[i*b.Channels : (i+1)*b.Channels]
			dst := out[i*channels : (i+1)*channels]
			for ch := range dst {
				if ch < len(src) {
					dst[ch] = src[ch]
				} else {
					dst[ch] = src[len(src)-1]
				}
			}
			if len(src) > channels {
				var sum float32
				for _, v := range src[channels-1:] {
					sum += v
				}
				dst[channels-1] = sum / float32(len(src)-channels+1)
			}
		}
	}

	return &Buffer{Samples: out, SampleRate: b.SampleRate, Channels: channels}
}

// Resample converts b to rate using linear interpolation per channel.
func Resample(b *Buffer, rate int) *Buffer {
	if b.SampleRate == rate || rate <= 0 || b.SampleRate <= 0 {
		return b
	}

	ch := b.Channels
	frames := b.Frames()
	ratio := float64(b.SampleRate) / float64(rate)
	newFrames := int(float64(frames) / ratio)
	out := make([]float32, newFrames*ch)

	for i := 0; i < newFrames; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		for c := 0; c < ch; c++ {
			if srcIdx+1 < frames {
				out[i*ch+c] = b.Samples[srcIdx*ch+c]*(1-frac) + b.Samples[(srcIdx+1)*ch+c]*frac
			} else if srcIdx < frames {
				out[i*ch+c] = b.Samples[srcIdx*ch+c]
			}
		}
	}

	return &Buffer{Samples: out, SampleRate: rate, Channels: ch}
}
