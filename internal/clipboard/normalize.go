package clipboard

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"

	apperr "clipboard-history/internal/errors"
	"clipboard-history/internal/storage"
	"clipboard-history/pkg/types"
)

// Limits bounds captured payload size.
type Limits struct {
	// MaxBytes is the payload ceiling; zero disables it.
	MaxBytes int
	// Truncate keeps the leading MaxBytes of oversized text instead of
	// rejecting it. Images are rejected regardless.
	Truncate bool
}

var utf16Decoder = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)

// Normalize turns a raw capture into canonical form: UTF-8 text for text
// kinds, untouched bytes for images. It returns nil for empty or
// unsupported content.
func Normalize(c *Capture, limits Limits) (*storage.AppendInput, error) {
	if c == nil || len(c.Data) == 0 {
		return nil, nil
	}

	if c.Format.IsImage() {
		if limits.MaxBytes > 0 && len(c.Data) > limits.MaxBytes {
			return nil, apperr.NewPayloadTooLarge(limits.MaxBytes, len(c.Data))
		}
		return &storage.AppendInput{
			Kind:          types.KindImage,
			Payload:       c.Data,
			ByteLength:    int64(len(c.Data)),
			SourceProcess: c.Source,
		}, nil
	}

	var text string
	switch c.Format {
	case FormatUTF16:
		decoded, err := utf16Decoder.NewDecoder().Bytes(c.Data)
		if err != nil {
			return nil, apperr.NewCaptureRead(err)
		}
		text = string(decoded)
	case FormatText, FormatRTF, FormatHTML:
		text = string(c.Data)
	default:
		return nil, nil
	}

	text = strings.TrimRight(strings.ToValidUTF8(text, "\uFFFD"), "\x00")
	if text == "" {
		return nil, nil
	}

	kind := types.KindText
	switch {
	case c.Format == FormatRTF || c.Format == FormatHTML:
		kind = types.KindRichDocument
	case isURL(text):
		kind = types.KindURL
	}

	payload := []byte(text)
	byteLength := int64(len(payload))
	if limits.MaxBytes > 0 && len(payload) > limits.MaxBytes {
		if !limits.Truncate {
			return nil, apperr.NewPayloadTooLarge(limits.MaxBytes, len(payload))
		}
		payload = truncateUTF8(payload, limits.MaxBytes)
	}

	return &storage.AppendInput{
		Kind:          kind,
		Payload:       payload,
		ByteLength:    byteLength,
		SourceProcess: c.Source,
	}, nil
}

// isURL reports whether s is a single absolute URL with a scheme worth opening.
func isURL(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp":
		return u.Host != ""
	case "file":
		return u.Path != ""
	case "mailto":
		return u.Opaque != ""
	}
	return false
}

// truncateUTF8 cuts valid UTF-8 to at most max bytes without splitting a rune.
func truncateUTF8(b []byte, max int) []byte {
	if len(b) <= max {
		return b
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return b[:cut]
}
