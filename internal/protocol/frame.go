// Package protocol implements the daemon's local wire format: every message
// is a little-endian uint32 byte count followed by that many bytes of JSON.
// Decoders ignore fields they do not know, so either side may add optional
// fields without breaking the other.
//
// Every response carries "ok" and, on failure, "error":{code,message}.
// list, search and export answer with "entries", always an array; a page
// that would not fit in one frame is cut short and "next" holds the offset
// to continue from. paste answers with "entry", whose "kind" says whether
// the payload is in "text" or, base64 encoded, in "data". import answers
// with "admitted" and "skipped", clear with "cleared", status with "status".
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	apperr "clipboard-history/internal/errors"
)

const (
	// Version is stamped on every message as "v".
	Version = 1

	// DefaultMaxFrameSize bounds a single message body.
	DefaultMaxFrameSize = 64 << 20

	headerSize = 4
)

var (
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
	ErrTruncatedFrame = errors.New("truncated frame")
)

// WriteFrame writes payload with its length prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return ErrFrameTooLarge
	}
	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerSize:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one message body. It returns io.EOF only when the stream
// ends cleanly between frames.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, apperr.NewProtocolDecode("truncated frame header", ErrTruncatedFrame)
		}
		return nil, err
	}

	size := binary.LittleEndian.Uint32(header[:])
	if uint64(size) > uint64(maxSize) {
		return nil, apperr.NewProtocolDecode(
			fmt.Sprintf("frame of %d bytes exceeds maximum of %d", size, maxSize),
			ErrFrameTooLarge)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, apperr.NewProtocolDecode(
				fmt.Sprintf("truncated frame: expected %d bytes", size),
				ErrTruncatedFrame)
		}
		return nil, err
	}
	return payload, nil
}

// WriteMessage encodes v as JSON and writes it as one frame.
func WriteMessage(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return WriteFrame(w, payload)
}

// IsFatal reports whether a read error leaves the stream unusable: the
// next frame boundary is unknown after a truncated or oversized frame.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFrameTooLarge) || errors.Is(err, ErrTruncatedFrame) || !apperr.Is(err, apperr.CodeProtocolDecode)
}
