package protocol

import (
	"encoding/binary"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "clipboard-history/internal/errors"
	"clipboard-history/pkg/types"
)

func TestClient_BrokenAfterOversizedFrame(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	client := NewClient(clientConn, WithMaxFrameSize(1<<10))
	defer client.Close()

	requests := make(chan *Request, 4)
	go func() {
		defer serverConn.Close()
		payload, err := ReadFrame(serverConn, 0)
		if err != nil {
			return
		}
		req, err := DecodeRequest(payload)
		if err != nil {
			return
		}
		requests <- req

		var header [4]byte
		binary.LittleEndian.PutUint32(header[:], 1<<20)
		serverConn.Write(header[:])
	}()

	ctx := t.Context()

	_, err := client.Status(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = client.List(ctx, 1, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionBroken)
	assert.Contains(t, err.Error(), "exceeds maximum")

	assert.Len(t, requests, 1)
}

func TestClient_RejectsOversizedRequest(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()
	client := NewClient(clientConn, WithMaxFrameSize(256))
	defer client.Close()

	// Nothing reads serverConn, so a write would block.
	_, err := client.Do(t.Context(), &Request{Command: CmdSearch, Query: strings.Repeat("q", 512)})
	assert.True(t, apperr.Is(err, apperr.CodePayloadTooLarge))
}

func TestClient_FollowsNextCursor(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	client := NewClient(clientConn)
	defer client.Close()

	all := textEntries(5, 1)
	seen := make(chan Request, 8)
	go func() {
		defer serverConn.Close()
		for {
			payload, err := ReadFrame(serverConn, 0)
			if err != nil {
				return
			}
			req, err := DecodeRequest(payload)
			if err != nil {
				return
			}
			seen <- *req

			// Serve at most two entries per response.
			page := all[min(req.Offset, len(all)):]
			if req.Limit > 0 && req.Limit < len(page) {
				page = page[:req.Limit]
			}
			resp := NewResponse()
			resp.Entries = page
			if len(page) > 2 {
				resp.Entries = page[:2]
				next := req.Offset + 2
				resp.Next = &next
			}
			if err := WriteMessage(serverConn, resp); err != nil {
				return
			}
		}
	}()

	ctx := t.Context()

	entries, err := client.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, all, entries)

	entries, err = client.List(ctx, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, all[1:4], entries)

	close(seen)
	var offsets []int
	for req := range seen {
		offsets = append(offsets, req.Offset)
	}
	assert.Equal(t, []int{0, 2, 4, 1, 3}, offsets)
}

func TestClient_ImportBatches(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	entries := textEntries(6, 300)
	client := NewClient(clientConn, WithMaxFrameSize(listOverhead+800))
	defer client.Close()

	batchSizes := make(chan int, 8)
	go func() {
		defer serverConn.Close()
		for {
			payload, err := ReadFrame(serverConn, 0)
			if err != nil {
				return
			}
			req, err := DecodeRequest(payload)
			if err != nil {
				return
			}
			batchSizes <- len(req.Entries)
			admitted, skipped := len(req.Entries), 0
			resp := NewResponse()
			resp.Admitted, resp.Skipped = &admitted, &skipped
			if err := WriteMessage(serverConn, resp); err != nil {
				return
			}
		}
	}()

	result, err := client.Import(t.Context(), entries)
	require.NoError(t, err)
	assert.Equal(t, 6, result.Admitted)

	close(batchSizes)
	var total int
	var batches int
	for n := range batchSizes {
		total += n
		batches++
	}
	assert.Equal(t, 6, total)
	assert.Greater(t, batches, 1)

	_, err = client.Import(t.Context(), []Entry{{Kind: types.KindText, Text: strings.Repeat("y", 2000)}})
	assert.True(t, apperr.Is(err, apperr.CodePayloadTooLarge))
}
