package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	apperr "clipboard-history/internal/errors"
	"clipboard-history/internal/storage"
)

// DefaultRequestTimeout applies when the caller's context has no deadline.
const DefaultRequestTimeout = 30 * time.Second

// ErrConnectionBroken is returned by every call after a transport failure
// left the stream out of sync. Dial again to recover.
var ErrConnectionBroken = errors.New("connection to daemon is broken")

// Client talks to the daemon over its local socket. Requests on one
// client are serialized.
type Client struct {
	conn     net.Conn
	maxFrame int
	mu       sync.Mutex
	broken   error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMaxFrameSize sets the largest frame the client sends or accepts. It
// should match the daemon's server.max_frame_bytes.
func WithMaxFrameSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxFrame = n
		}
	}
}

// Dial connects to the daemon listening on socketPath.
func Dial(ctx context.Context, socketPath string, opts ...ClientOption) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon at %s: %w", socketPath, err)
	}
	return NewClient(conn, opts...), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, opts ...ClientOption) *Client {
	c := &Client{conn: conn, maxFrame: DefaultMaxFrameSize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends one request and waits for its response. A response with
// ok=false is returned together with its typed error. After a transport
// failure the connection is closed and later calls fail fast with
// ErrConnectionBroken.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionBroken, c.broken)
	}

	req.Version = Version
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", req.Command, err)
	}
	if len(body) > c.maxFrame {
		return nil, apperr.NewPayloadTooLarge(c.maxFrame, len(body))
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultRequestTimeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, c.fail(err)
	}
	defer c.conn.SetDeadline(time.Time{})

	if err := WriteFrame(c.conn, body); err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", req.Command, c.fail(err))
	}

	payload, err := ReadFrame(c.conn, c.maxFrame)
	if err != nil {
		if IsFatal(err) {
			err = c.fail(err)
		}
		return nil, fmt.Errorf("failed to read %s response: %w", req.Command, err)
	}

	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", req.Command, err)
	}
	return &resp, resp.Err()
}

// fail marks the client unusable and closes the connection.
func (c *Client) fail(err error) error {
	c.broken = err
	c.conn.Close()
	return err
}

// collect issues req and follows next cursors until limit entries are
// gathered or the daemon has nothing more. A non-positive limit gathers
// everything.
func (c *Client) collect(ctx context.Context, req Request) ([]Entry, error) {
	entries := []Entry{}
	for {
		resp, err := c.Do(ctx, &req)
		if err != nil {
			return nil, err
		}
		entries = append(entries, resp.Entries...)
		if resp.Next == nil || len(resp.Entries) == 0 {
			return entries, nil
		}
		if req.Limit > 0 {
			req.Limit -= len(resp.Entries)
			if req.Limit <= 0 {
				return entries, nil
			}
		}
		req.Offset = *resp.Next
	}
}

func (c *Client) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	return c.collect(ctx, Request{Command: CmdList, Limit: limit, Offset: offset})
}

func (c *Client) Search(ctx context.Context, query string, limit, offset int) ([]Entry, error) {
	return c.collect(ctx, Request{Command: CmdSearch, Query: query, Limit: limit, Offset: offset})
}

func (c *Client) AddTag(ctx context.Context, id int64, tag string) error {
	_, err := c.Do(ctx, &Request{Command: CmdAddTag, ID: &id, Tag: tag})
	return err
}

func (c *Client) RemoveTag(ctx context.Context, id int64, tag string) error {
	_, err := c.Do(ctx, &Request{Command: CmdRemoveTag, ID: &id, Tag: tag})
	return err
}

// Export returns the whole history, oldest first, over as many round
// trips as the frame size requires.
func (c *Client) Export(ctx context.Context) ([]Entry, error) {
	return c.collect(ctx, Request{Command: CmdExport})
}

// Import sends entries in batches that fit in one frame each. Every batch
// commits on its own; the result sums them.
func (c *Client) Import(ctx context.Context, entries []Entry) (storage.ImportResult, error) {
	batches, err := batchEntries(entries, c.maxFrame)
	if err != nil {
		return storage.ImportResult{}, err
	}

	var result storage.ImportResult
	for _, batch := range batches {
		resp, err := c.Do(ctx, &Request{Command: CmdImport, Entries: batch})
		if err != nil {
			return result, err
		}
		if resp.Admitted != nil {
			result.Admitted += *resp.Admitted
		}
		if resp.Skipped != nil {
			result.Skipped += *resp.Skipped
		}
	}
	return result, nil
}

// PasteByID resolves the entry to paste by id.
func (c *Client) PasteByID(ctx context.Context, id int64) (*Entry, error) {
	resp, err := c.Do(ctx, &Request{Command: CmdPaste, ID: &id})
	if err != nil {
		return nil, err
	}
	return resp.Entry, nil
}

// PasteByIndex resolves the entry to paste by position, 0 being the newest.
func (c *Client) PasteByIndex(ctx context.Context, index int) (*Entry, error) {
	resp, err := c.Do(ctx, &Request{Command: CmdPaste, Index: &index})
	if err != nil {
		return nil, err
	}
	return resp.Entry, nil
}

func (c *Client) Clear(ctx context.Context) (int64, error) {
	resp, err := c.Do(ctx, &Request{Command: CmdClear})
	if err != nil {
		return 0, err
	}
	if resp.Cleared == nil {
		return 0, nil
	}
	return *resp.Cleared, nil
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	resp, err := c.Do(ctx, &Request{Command: CmdStatus})
	if err != nil {
		return nil, err
	}
	return resp.Status, nil
}
