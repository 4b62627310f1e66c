package protocol

import (
	"encoding/json"
	"fmt"

	apperr "clipboard-history/internal/errors"
)

// listOverhead is reserved for the envelope around a batch of entries
// sent in one request.
const listOverhead = 1 << 10

// EncodeResponse marshals resp so that it fits in a frame of maxSize bytes.
// A page of entries that does not fit is cut short and Next is set to
// offset plus the number of entries kept. When not even one entry fits, or
// the response carries no entries to drop, it returns PAYLOAD_TOO_LARGE.
func EncodeResponse(resp *Response, offset, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	if len(payload) <= maxSize {
		return payload, nil
	}
	if len(resp.Entries) == 0 {
		return nil, apperr.NewPayloadTooLarge(maxSize, len(payload))
	}

	// Size the envelope with the largest cursor it could carry.
	page := *resp
	page.Entries = []Entry{}
	next := offset + len(resp.Entries)
	page.Next = &next
	envelope, err := json.Marshal(&page)
	if err != nil {
		return nil, err
	}

	budget := maxSize - len(envelope)
	kept := 0
	for _, e := range resp.Entries {
		encoded, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		cost := len(encoded)
		if kept > 0 {
			cost++ // separator
		}
		if cost > budget {
			if kept == 0 {
				return nil, apperr.NewPayloadTooLarge(maxSize, len(envelope)+len(encoded))
			}
			break
		}
		budget -= cost
		kept++
	}

	next = offset + kept
	page.Entries = resp.Entries[:kept]
	return json.Marshal(&page)
}

// batchEntries splits entries into groups whose encoded size stays under
// maxSize, for requests that carry entries to the daemon.
func batchEntries(entries []Entry, maxSize int) ([][]Entry, error) {
	budget := maxSize - listOverhead
	var (
		batches [][]Entry
		start   int
		size    int
	)
	for i, e := range entries {
		encoded, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		cost := len(encoded) + 1
		if cost > budget {
			return nil, &apperr.Error{
				Code:    apperr.CodePayloadTooLarge,
				Message: fmt.Sprintf("entry %d is %d bytes encoded, over the %d byte request limit", i, cost, budget),
			}
		}
		if size+cost > budget {
			batches = append(batches, entries[start:i])
			start, size = i, 0
		}
		size += cost
	}
	if start < len(entries) {
		batches = append(batches, entries[start:])
	}
	return batches, nil
}
