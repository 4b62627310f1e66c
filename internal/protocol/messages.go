package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	apperr "clipboard-history/internal/errors"
	"clipboard-history/pkg/types"
)

// Command names a request.
type Command string

const (
	CmdList      Command = "list"
	CmdSearch    Command = "search"
	CmdAddTag    Command = "add_tag"
	CmdRemoveTag Command = "remove_tag"
	CmdExport    Command = "export"
	CmdImport    Command = "import"
	CmdPaste     Command = "paste"
	CmdClear     Command = "clear"
	CmdStatus    Command = "status"
)

// Request is a client message. Only the fields the command uses are read.
type Request struct {
	Version int     `json:"v,omitempty"`
	Command Command `json:"command"`

	ID    *int64 `json:"id,omitempty"`
	Index *int   `json:"index,omitempty"` // paste: 0 is the newest entry
	Tag   string `json:"tag,omitempty"`
	Query string `json:"query,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	Entries []Entry `json:"entries,omitempty"`
}

// Response is the server's reply. Absent fields decode as zero values.
type Response struct {
	Version int        `json:"v"`
	OK      bool       `json:"ok"`
	Error   *ErrorBody `json:"error,omitempty"`

	Entries []Entry `json:"entries"`
	// Next is the offset to request to continue a page of entries that was
	// cut short to fit in one frame. Absent when nothing was left out.
	Next     *int    `json:"next,omitempty"`
	Entry    *Entry  `json:"entry,omitempty"`
	Admitted *int    `json:"admitted,omitempty"`
	Skipped  *int    `json:"skipped,omitempty"`
	Cleared  *int64  `json:"cleared,omitempty"`
	Status   *Status `json:"status,omitempty"`
}

// ErrorBody is the structured error shown to clients.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Entry is a clipboard entry on the wire. Text kinds carry Text; images
// carry Data, which JSON encodes as base64.
type Entry struct {
	ID            int64      `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	Kind          types.Kind `json:"kind"`
	Text          string     `json:"text,omitempty"`
	Data          []byte     `json:"data,omitempty"`
	ByteLength    int64      `json:"byte_length"`
	ContentHash   string     `json:"content_hash,omitempty"`
	SourceProcess string     `json:"source_process,omitempty"`
	Tags          []string   `json:"tags"`
}

// Status describes the running daemon.
type Status struct {
	Version         string    `json:"version"`
	ProtocolVersion int       `json:"protocol_version"`
	StartedAt       time.Time `json:"started_at"`
	Count           int64     `json:"count"`
	MaxEntries      int       `json:"max_entries"`
	CaptureMode     string    `json:"capture_mode"`
	Captured        int64     `json:"captured"`
	Duplicates      int64     `json:"duplicates"`
	Failures        int64     `json:"failures"`
}

// FromEntry converts a stored entry to its wire form.
func FromEntry(e *types.Entry) Entry {
	out := Entry{
		ID:            e.ID,
		CreatedAt:     e.CreatedAt,
		Kind:          e.Kind,
		ByteLength:    e.ByteLength,
		ContentHash:   e.ContentHash,
		SourceProcess: e.SourceProcess,
		Tags:          e.Tags,
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if e.Kind.IsText() {
		out.Text = e.Text()
	} else {
		out.Data = e.Payload
	}
	return out
}

// FromEntries converts a slice of stored entries.
func FromEntries(entries []*types.Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = FromEntry(e)
	}
	return out
}

// ToEntry converts a wire entry back, validating its kind.
func (e Entry) ToEntry() (types.Entry, error) {
	kind, err := types.ParseKind(string(e.Kind))
	if err != nil {
		return types.Entry{}, err
	}
	out := types.Entry{
		ID:            e.ID,
		CreatedAt:     e.CreatedAt,
		Kind:          kind,
		ByteLength:    e.ByteLength,
		ContentHash:   e.ContentHash,
		SourceProcess: e.SourceProcess,
		Tags:          e.Tags,
	}
	if kind.IsText() {
		out.Payload = []byte(e.Text)
	} else {
		out.Payload = e.Data
	}
	return out, nil
}

// Payload returns the entry content as bytes.
func (e Entry) Payload() []byte {
	if e.Kind.IsText() {
		return []byte(e.Text)
	}
	return e.Data
}

// DecodeRequest parses a request body. Unknown fields are ignored.
func DecodeRequest(payload []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, apperr.NewProtocolDecode(fmt.Sprintf("invalid request: %v", err), err)
	}
	if req.Command == "" {
		return nil, apperr.NewProtocolDecode("missing command", nil)
	}
	return &req, nil
}

// NewResponse returns a successful, versioned response.
func NewResponse() *Response {
	return &Response{Version: Version, OK: true}
}

// ErrorResponse converts err into a client-facing failure. Only the typed
// message is exposed; wrapped causes stay in the daemon's logs.
func ErrorResponse(err error) *Response {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.NewInternal(err)
	}
	return &Response{
		Version: Version,
		Error:   &ErrorBody{Code: string(e.Code), Message: e.Message},
	}
}

// Err returns the response's failure as a typed error, or nil on success.
func (r *Response) Err() error {
	if r.OK {
		return nil
	}
	if r.Error == nil {
		return &apperr.Error{Code: apperr.CodeInternal, Message: "request failed without an error body"}
	}
	return &apperr.Error{Code: apperr.Code(r.Error.Code), Op: "remote", Message: r.Error.Message}
}
