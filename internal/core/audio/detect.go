package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/abhishekbhakat/liqui-speak/internal/core/errdefs"
	"github.com/gabriel-vasile/mimetype"
)

// headerSize is how much of the file the signature check looks at.
const headerSize = 4096

// maxBoxRead caps how much of an MP4 moov box or ASF header is read for DRM checks.
const maxBoxRead = 32 << 20

var (
	asfHeaderGUID = []byte{0x30, 0x26, 0xB2, 0x75, 0x8E, 0x66, 0xCF, 0x11, 0xA6, 0xD9, 0x00, 0xAA, 0x00, 0x62, 0xCE, 0x6C}

	asfContentEncryptionGUID    = []byte{0xFB, 0xB3, 0x11, 0x22, 0x23, 0xBD, 0xD2, 0x11, 0xB4, 0xB7, 0x00, 0xA0, 0xC9, 0x55, 0xFC, 0x6E}
	asfExtContentEncryptionGUID = []byte{0x14, 0xE6, 0x8A, 0x29, 0x22, 0x26, 0x17, 0x4C, 0xB9, 0x35, 0xDA, 0xE0, 0x7E, 0xE9, 0x28, 0x9C}
)

// mimeFormats maps mimetype results to formats. Parents are checked too.
var mimeFormats = []struct {
	mime   string
	format Format
}{
	{"audio/wav", FormatWAV},
	{"audio/flac", FormatFLAC},
	{"audio/ogg", FormatOGG},
	{"audio/aiff", FormatAIFF},
	{"audio/mpeg", FormatMP3},
	{"audio/aac", FormatAAC},
	{"audio/x-m4a", FormatM4A},
	{"audio/mp4", FormatM4A},
	{"video/mp4", FormatM4A},
	{"video/x-ms-asf", FormatWMA},
}

// Detect identifies the audio format of the file at path from its content.
// The extension is consulted only when neither the signature table nor the
// mimetype sniff recognize the data.
func Detect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FormatUnknown, errdefs.Format("detect", fmt.Errorf("%w: %s", errdefs.ErrInputNotFound, path),
				"check the path and try again")
		}
		return FormatUnknown, errdefs.Format("detect", err, "")
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return FormatUnknown, errdefs.Format("detect", err, "")
	}
	if st.IsDir() {
		return FormatUnknown, errdefs.Format("detect", fmt.Errorf("%w: %s is a directory", errdefs.ErrUnknownFormat, path), "")
	}

	header := make([]byte, headerSize)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, errdefs.Format("detect", err, "")
	}
	header = header[:n]
	if n == 0 {
		return FormatUnknown, errdefs.Format("detect", fmt.Errorf("%w: empty file", errdefs.ErrUnknownFormat),
			"the file contains no data")
	}

	format := sniff(header)

	var reason string
	switch format {
	case FormatM4A:
		format, reason, err = inspectMP4(f, st.Size())
	case FormatWMA:
		reason, err = inspectASF(f)
	}
	if err != nil {
		return FormatUnknown, errdefs.Format("detect", fmt.Errorf("%w: %v", errdefs.ErrUnknownFormat, err), "")
	}
	if reason != "" {
		return format, errdefs.Format("detect", &errdefs.UnsupportedFormatError{Format: format.String(), Reason: reason},
			"DRM-protected files cannot be transcribed; export an unprotected copy first")
	}

	if format == FormatUnknown {
		format = sniffMIME(header)
	}
	if format == FormatUnknown {
		format = formatFromExt(filepath.Ext(path))
	}
	if format == FormatUnknown {
		return FormatUnknown, errdefs.Format("detect", fmt.Errorf("%w: %s", errdefs.ErrUnknownFormat, filepath.Base(path)),
			"supported formats: wav, flac, ogg, aiff, mp3, m4a, aac, alac, wma")
	}
	return format, nil
}

// sniff matches the fixed signature table against the start of the file.
func sniff(h []byte) Format {
	switch {
	case len(h) >= 12 && string(h[0:4]) == "RIFF" && string(h[8:12]) == "WAVE":
		return FormatWAV
	case bytes.HasPrefix(h, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(h, []byte("OggS")):
		if bytes.Contains(h, []byte("OpusHead")) {
			return FormatOpus
		}
		return FormatOGG
	case len(h) >= 12 && string(h[0:4]) == "FORM" && (string(h[8:12]) == "AIFF" || string(h[8:12]) == "AIFC"):
		return FormatAIFF
	case len(h) >= 8 && string(h[4:8]) == "ftyp":
		return FormatM4A
	case bytes.HasPrefix(h, asfHeaderGUID):
		return FormatWMA
	case bytes.HasPrefix(h, []byte("ID3")):
		rest := skipID3(h)
		switch {
		case bytes.HasPrefix(rest, []byte("fLaC")):
			return FormatFLAC
		case isADTS(rest):
			return FormatAAC
		}
		return FormatMP3
	case isADTS(h):
		return FormatAAC
	case isMPEGLayer3(h):
		return FormatMP3
	}
	return FormatUnknown
}

// skipID3 returns the bytes after an ID3v2 tag, or nil if the tag runs past h.
func skipID3(h []byte) []byte {
	if len(h) < 10 {
		return nil
	}
	size := int(h[6]&0x7F)<<21 | int(h[7]&0x7F)<<14 | int(h[8]&0x7F)<<7 | int(h[9]&0x7F)
	offset := 10 + size
	if h[5]&0x10 != 0 {
		offset += 10
	}
	if offset >= len(h) {
		return nil
	}
	return h[offset:]
}

// isADTS matches a 12-bit sync word with layer 00.
func isADTS(h []byte) bool {
	return len(h) >= 2 && h[0] == 0xFF && h[1]&0xF6 == 0xF0
}

// isMPEGLayer3 matches an 11-bit MPEG audio frame sync with layer III.
func isMPEGLayer3(h []byte) bool {
	if len(h) < 3 || h[0] != 0xFF || h[1]&0xE0 != 0xE0 {
		return false
	}
	version := (h[1] >> 3) & 0x03
	layer := (h[1] >> 1) & 0x03
	bitrate := h[2] >> 4
	rate := (h[2] >> 2) & 0x03
	return version != 0x01 && layer == 0x01 && bitrate != 0x0F && rate != 0x03
}

func sniffMIME(h []byte) Format {
	for m := mimetype.Detect(h); m != nil; m = m.Parent() {
		for _, mf := range mimeFormats {
			if m.Is(mf.mime) {
				return mf.format
			}
		}
	}
	return FormatUnknown
}

// inspectMP4 walks the ISO-BMFF box tree looking for the brand and the audio
// sample entries. It returns a non-empty reason when the file is DRM protected.
func inspectMP4(r io.ReaderAt, size int64) (Format, string, error) {
	var moov []byte
	err := walkBoxes(r, 0, size, func(typ string, off, payloadOff, end int64) (bool, error) {
		switch typ {
		case "ftyp":
			n := end - payloadOff
			if n > 1024 {
				n = 1024
			}
			payload := make([]byte, n)
			if _, err := r.ReadAt(payload, payloadOff); err != nil && !errors.Is(err, io.EOF) {
				return false, err
			}
			for i := 0; i+4 <= len(payload); i += 4 {
				// Bytes 4..8 are the minor version, not a brand.
				if i == 4 {
					continue
				}
				if string(payload[i:i+4]) == "M4P " {
					return false, errDRMBrand
				}
			}
		case "moov":
			n := end - payloadOff
			if n > maxBoxRead {
				return false, fmt.Errorf("moov box too large (%d bytes)", n)
			}
			moov = make([]byte, n)
			if _, err := r.ReadAt(moov, payloadOff); err != nil && !errors.Is(err, io.EOF) {
				return false, err
			}
			return false, nil
		}
		return true, nil
	})
	if errors.Is(err, errDRMBrand) {
		return FormatM4A, "drm", nil
	}
	if err != nil {
		return FormatUnknown, "", err
	}

	format := FormatM4A
	for _, entry := range sampleEntries(moov) {
		switch entry {
		case "drms", "drmi", "enca":
			return FormatM4A, "drm", nil
		case "alac":
			format = FormatALAC
		}
	}
	return format, "", nil
}

var errDRMBrand = errors.New("protected brand")

// walkBoxes calls fn for each top-level box in [start, limit). fn returns
// false to stop walking.
func walkBoxes(r io.ReaderAt, start, limit int64, fn func(typ string, off, payloadOff, end int64) (bool, error)) error {
	hdr := make([]byte, 16)
	for off := start; off+8 <= limit; {
		if _, err := r.ReadAt(hdr[:8], off); err != nil {
			return err
		}
		size := int64(binary.BigEndian.Uint32(hdr[0:4]))
		typ := string(hdr[4:8])
		payloadOff := off + 8
		switch size {
		case 0:
			size = limit - off
		case 1:
			if _, err := r.ReadAt(hdr[8:16], off+8); err != nil {
				return err
			}
			size = int64(binary.BigEndian.Uint64(hdr[8:16]))
			payloadOff = off + 16
		}
		if size < payloadOff-off || off+size > limit {
			return fmt.Errorf("malformed %q box at offset %d", typ, off)
		}
		more, err := fn(typ, off, payloadOff, off+size)
		if err != nil || !more {
			return err
		}
		off += size
	}
	return nil
}

// sampleEntries returns the stsd sample entry types found under moov.
func sampleEntries(moov []byte) []string {
	var out []string
	var walk func(b []byte)
	walk = func(b []byte) {
		for len(b) >= 8 {
			size := int(binary.BigEndian.Uint32(b[0:4]))
			typ := string(b[4:8])
			if size < 8 || size > len(b) {
				return
			}
			payload := b[8:size]
			switch typ {
			case "trak", "mdia", "minf", "stbl":
				walk(payload)
			case "stsd":
				// version/flags (4) + entry count (4), then sample entries.
				if len(payload) > 8 {
					entries := payload[8:]
					for len(entries) >= 8 {
						esize := int(binary.BigEndian.Uint32(entries[0:4]))
						out = append(out, string(entries[4:8]))
						if esize < 8 || esize > len(entries) {
							break
						}
						entries = entries[esize:]
					}
				}
			}
			b = b[size:]
		}
	}
	walk(moov)
	return out
}

// inspectASF scans the ASF header object for content encryption objects.
func inspectASF(r io.ReaderAt) (string, error) {
	hdr := make([]byte, 30)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return "", err
	}
	size := int64(binary.LittleEndian.Uint64(hdr[16:24]))
	if size < 30 {
		return "", fmt.Errorf("malformed ASF header")
	}
	if size > maxBoxRead {
		size = maxBoxRead
	}
	body := make([]byte, size)
	n, err := r.ReadAt(body, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	body = body[:n]

	for off := 30; off+24 <= len(body); {
		guid := body[off : off+16]
		objSize := int(binary.LittleEndian.Uint64(body[off+16 : off+24]))
		if bytes.Equal(guid, asfContentEncryptionGUID) || bytes.Equal(guid, asfExtContentEncryptionGUID) {
			return "drm", nil
		}
		if objSize < 24 {
			break
		}
		off += objSize
	}
	return "", nil
}
