// Package errdefs defines the error kinds and sentinel values shared by the
// provisioning, audio and transcription packages.
package errdefs

import "errors"

// Sentinel errors. Wrap them with the constructors below and match with errors.Is.
var (
	ErrDownload            = errors.New("download failed")
	ErrStorage             = errors.New("insufficient storage")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrIntegrity           = errors.New("checksum mismatch")
	ErrNotProvisioned      = errors.New("environment not provisioned")

	ErrInputNotFound     = errors.New("audio file not found")
	ErrUnknownFormat     = errors.New("unknown audio format")
	ErrUnsupportedFormat = errors.New("unsupported audio format")

	ErrConversion  = errors.New("audio conversion failed")
	ErrInference   = errors.New("inference failed")
	ErrEmptyResult = errors.New("empty transcription result")
)

// Kind classifies an Error by the stage that produced it.
type Kind int

const (
	KindUnknown Kind = iota
	KindUsage
	KindSetup
	KindFormat
	KindConversion
	KindInference
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindSetup:
		return "setup"
	case KindFormat:
		return "format"
	case KindConversion:
		return "conversion"
	case KindInference:
		return "inference"
	default:
		return "unknown"
	}
}

// Error is a classified failure with an optional remediation hint.
type Error struct {
	Kind Kind
	Op   string
	Err  error
	Hint string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error, hint string) *Error {
	if err == nil {
		err = errors.New(kind.String() + " error")
	}
	return &Error{Kind: kind, Op: op, Err: err, Hint: hint}
}

// Setup reports a provisioning failure (network, storage, integrity, platform).
func Setup(op string, err error, hint string) *Error {
	return newError(KindSetup, op, err, hint)
}

// Format reports an input the detector cannot accept.
func Format(op string, err error, hint string) *Error {
	return newError(KindFormat, op, err, hint)
}

// Conversion reports a failure of the external conversion step.
func Conversion(op string, err error, hint string) *Error {
	return newError(KindConversion, op, err, hint)
}

// Inference reports a failure of the inference subprocess.
func Inference(op string, err error, hint string) *Error {
	return newError(KindInference, op, err, hint)
}

// Usage reports bad command line arguments.
func Usage(op string, err error, hint string) *Error {
	return newError(KindUsage, op, err, hint)
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HintOf returns the first non-empty hint in err's chain.
func HintOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Hint != "" {
			return e.Hint
		}
		err = e.Err
	}
	return ""
}

// UnsupportedFormatError carries the reason an input was rejected.
type UnsupportedFormatError struct {
	Format string
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Reason == "" {
		return "unsupported audio format " + e.Format
	}
	return "unsupported audio format " + e.Format + " (" + e.Reason + ")"
}

func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}
