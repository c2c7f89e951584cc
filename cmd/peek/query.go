package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"peek/internal/protocol"
	"peek/internal/render"
	"peek/internal/session"
	"peek/internal/tree"
)

var (
	queryFormat  string
	queryTimeout time.Duration
)

var queryCmd = &cobra.Command{
	Use:   "query <kind> <file:line:col>",
	Short: "Run one query and print the location list",
	Long: `Ask every active backend for kind at a position and print the first
non-empty answer. Line and column are 1-based; the column counts bytes.

Examples:
  peek query references internal/tree/tree.go:85:6
  peek query incoming_calls main.go:12:6 --format json
  peek query definitions cmd/peek/main.go:9:12 --format yaml`,
	Args: cobra.ExactArgs(2),
	Run:  runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryFormat, "format", render.FormatText, "Output format (text, json, yaml)")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 30*time.Second, "Give up waiting for backends after this long")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) {
	if !render.ValidFormat(queryFormat) {
		fmt.Fprintf(os.Stderr, "Error: unknown format %q\n", queryFormat)
		os.Exit(1)
	}
	pos, err := parsePosition(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	a, err := newApp(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	cursor := pos.cursor(a.root)
	req := session.Request{
		Kind:     protocol.Kind(args[0]),
		Cursor:   cursor,
		LineText: lineText(a.files, cursor),
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	o, err := a.query(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		a.Close()
		os.Exit(1)
	}
	if err := writeOutcome(os.Stdout, a, o, queryFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		a.Close()
		os.Exit(1)
	}
}

// writeOutcome prints o: the jump target, or the list encoded in format.
func writeOutcome(w io.Writer, a *app, o *session.Outcome, format string) error {
	if o.Jump != nil {
		loc := o.Jump
		_, err := fmt.Fprintf(w, "%s:%d:%d %s\n", loc.Filename, loc.StartLine+1, loc.StartCol+1, loc.Text())
		return err
	}

	snap := &tree.Snapshot{Kind: o.Kind}
	total := 0
	if o.List != nil {
		if err := a.run(func() {
			snap = o.List.Snapshot()
			total = o.List.Groups().Len()
		}); err != nil {
			return err
		}
	}
	doc := render.NewDocument(o.ID, string(o.Backend), snap, total)
	doc.Messages = o.Messages
	return render.Encode(w, format, doc, snap, a.text)
}
