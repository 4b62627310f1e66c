package types

import (
	"fmt"
	"time"
)

// Kind is the content variant of a clipboard entry.
type Kind string

const (
	KindText         Kind = "text"
	KindURL          Kind = "url"
	KindImage        Kind = "image"
	KindRichDocument Kind = "rich"
)

// IsText reports whether payloads of this kind are UTF-8 text.
func (k Kind) IsText() bool {
	return k == KindText || k == KindURL || k == KindRichDocument
}

// ParseKind converts a stored or wire kind name back into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindText, KindURL, KindImage, KindRichDocument:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown entry kind %q", s)
}

// Entry is one item of clipboard history.
type Entry struct {
	ID            int64
	CreatedAt     time.Time
	Kind          Kind
	Payload       []byte // UTF-8 for text kinds, encoded image bytes otherwise
	ByteLength    int64  // payload size before any truncation
	ContentHash   string
	SourceProcess string
	Tags          []string
}

// Text returns the payload as a string. Only meaningful for text kinds.
func (e *Entry) Text() string {
	return string(e.Payload)
}
