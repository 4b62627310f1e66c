package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"clipboard-history/internal/protocol"
)

func (a *app) listCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd, func(ctx context.Context, c *protocol.Client) error {
				entries, err := c.List(ctx, limit, offset)
				if err != nil {
					return err
				}
				return a.printEntries(cmd.OutOrStdout(), entries)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries to show (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	return cmd
}

func (a *app) searchCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Case-insensitive substring search over text and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd, func(ctx context.Context, c *protocol.Client) error {
				entries, err := c.Search(ctx, args[0], limit, offset)
				if err != nil {
					return err
				}
				return a.printEntries(cmd.OutOrStdout(), entries)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries to show (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	return cmd
}

func (a *app) tagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tag ID TAG",
		Short: "Add a tag to an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.call(cmd, func(ctx context.Context, c *protocol.Client) error {
				return c.AddTag(ctx, id, args[1])
			})
		},
	}
}

func (a *app) untagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "untag ID TAG",
		Short: "Remove a tag from an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.call(cmd, func(ctx context.Context, c *protocol.Client) error {
				return c.RemoveTag(ctx, id, args[1])
			})
		},
	}
}

func (a *app) pasteCmd() *cobra.Command {
	var (
		index int
		out   string
	)
	cmd := &cobra.Command{
		Use:   "paste [ID]",
		Short: "Write an entry's payload to stdout or a file",
		Long: `Resolve an entry by id, or by position with --index (0 is the newest),
and write its payload. Images are written as raw bytes, so use --out for them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd, func(ctx context.Context, c *protocol.Client) error {
				var (
					entry *protocol.Entry
					err   error
				)
				if len(args) == 1 {
					id, perr := parseID(args[0])
					if perr != nil {
						return perr
					}
					entry, err = c.PasteByID(ctx, id)
				} else {
					entry, err = c.PasteByIndex(ctx, index)
				}
				if err != nil {
					return err
				}
				if entry == nil {
					return errors.New("daemon returned no entry")
				}
				return writePayload(cmd.OutOrStdout(), cmd.ErrOrStderr(), out, entry)
			})
		},
	}
	cmd.Flags().IntVarP(&index, "index", "i", 0, "position in the history, 0 being the newest")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export FILE",
		Short: "Export the whole history as JSON (- for stdout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd, func(ctx context.Context, c *protocol.Client) error {
				entries, err := c.Export(ctx)
				if err != nil {
					return err
				}
				if err := writeExport(cmd.OutOrStdout(), args[0], entries); err != nil {
					return err
				}
				if args[0] != "-" {
					fmt.Fprintf(cmd.ErrOrStderr(), "exported %d entries to %s\n", len(entries), args[0])
				}
				return nil
			})
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import entries from a JSON export (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readExport(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return a.call(cmd, func(ctx context.Context, c *protocol.Client) error {
				result, err := c.Import(ctx, entries)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries, skipped %d duplicates\n", result.Admitted, result.Skipped)
				return nil
			})
		},
	}
}

func (a *app) clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear the history without --yes")
			}
			return a.call(cmd, func(ctx context.Context, c *protocol.Client) error {
				n, err := c.Clear(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d entries\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.call(cmd, func(ctx context.Context, c *protocol.Client) error {
				status, err := c.Status(ctx)
				if err != nil {
					return err
				}
				if status == nil {
					return errors.New("daemon returned no status")
				}
				if a.asJSON {
					return printJSON(cmd.OutOrStdout(), status)
				}
				printStatus(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}
}

func (a *app) printEntries(w io.Writer, entries []protocol.Entry) error {
	if a.asJSON {
		if entries == nil {
			entries = []protocol.Entry{}
		}
		return printJSON(w, entries)
	}
	return printTable(w, entries)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid entry id %q", s)
	}
	return id, nil
}

func writePayload(stdout, stderr io.Writer, path string, entry *protocol.Entry) error {
	payload := entry.Payload()
	if path == "" {
		_, err := stdout.Write(payload)
		return err
	}
	if err := os.WriteFile(path, payload, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(stderr, "wrote %s (%s) to %s\n", entry.Kind, humanize.IBytes(uint64(len(payload))), path)
	return nil
}

func writeExport(stdout io.Writer, path string, entries []protocol.Entry) error {
	if entries == nil {
		entries = []protocol.Entry{}
	}
	if path == "-" {
		return printJSON(stdout, entries)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0600)
}

func readExport(stdin io.Reader, path string) ([]protocol.Entry, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}

	var entries []protocol.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("invalid export file: %w", err)
	}
	return entries, nil
}
