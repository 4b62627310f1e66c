package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"clipboard-history/internal/protocol"
)

const previewWidth = 60

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTable(w io.Writer, entries []protocol.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no entries")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOPIED\tKIND\tSIZE\tSOURCE\tPREVIEW")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			humanize.Time(e.CreatedAt),
			e.Kind,
			humanize.IBytes(uint64(max(e.ByteLength, 0))),
			orDash(e.SourceProcess),
			preview(e))
	}
	return tw.Flush()
}

// preview renders an entry on one line, tags appended.
func preview(e protocol.Entry) string {
	var text string
	if e.Kind.IsText() {
		text = strings.Join(strings.Fields(e.Text), " ")
		if utf8.RuneCountInString(text) > previewWidth {
			runes := []rune(text)
			text = string(runes[:previewWidth-1]) + "…"
		}
	} else {
		text = fmt.Sprintf("<%s>", e.Kind)
	}
	if len(e.Tags) > 0 {
		text += " [" + strings.Join(e.Tags, ", ") + "]"
	}
	return text
}

func printStatus(w io.Writer, s *protocol.Status) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "version:\t%s\n", orDash(s.Version))
	fmt.Fprintf(tw, "protocol:\tv%d\n", s.ProtocolVersion)
	fmt.Fprintf(tw, "started:\t%s (%s)\n",
		s.StartedAt.Local().Format(time.DateTime), humanize.Time(s.StartedAt))
	fmt.Fprintf(tw, "entries:\t%s / %s\n", humanize.Comma(s.Count), humanize.Comma(int64(s.MaxEntries)))
	fmt.Fprintf(tw, "capture mode:\t%s\n", s.CaptureMode)
	fmt.Fprintf(tw, "captured:\t%s\n", humanize.Comma(s.Captured))
	fmt.Fprintf(tw, "duplicates:\t%s\n", humanize.Comma(s.Duplicates))
	fmt.Fprintf(tw, "failures:\t%s\n", humanize.Comma(s.Failures))
	tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
