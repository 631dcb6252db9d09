package extract

import "errors"

var (
	// ErrUnsupportedFormat indicates no reader is registered for the media type.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrNoText indicates a file yielded no readable text.
	ErrNoText = errors.New("no readable text")

	// ErrInvalidEncoding indicates a text file is not valid UTF-8.
	ErrInvalidEncoding = errors.New("invalid UTF-8 encoding")

	// ErrMissingPart indicates an Office Open XML archive lacks a required part.
	ErrMissingPart = errors.New("missing document part")
)
