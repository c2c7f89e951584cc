package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"peek/internal/protocol"
	"peek/internal/render"
	"peek/internal/session"
	"peek/internal/tree"
)

var browseTimeout time.Duration

var browseCmd = &cobra.Command{
	Use:   "browse [<kind> <file:line:col>]",
	Short: "Browse location lists interactively",
	Long: `Read commands from stdin and drive the active location list.

Commands:
  query <kind> <file:line:col>   open a new list
  next | n                       move to the next location
  prev | p                       move to the previous location
  toggle | t                     toggle the fold under the cursor
  open | o                       open the fold under the cursor
  close | c                      close the fold under the cursor
  jump | j                       print the location under the cursor
  show | s                       print the list again
  quit | q                       exit`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("want no arguments or <kind> <file:line:col>")
		}
		return nil
	},
	Run: runBrowse,
}

func init() {
	browseCmd.Flags().DurationVar(&browseTimeout, "timeout", 30*time.Second, "Give up waiting for a query after this long")
	rootCmd.AddCommand(browseCmd)
}

func runBrowse(cmd *cobra.Command, args []string) {
	a, err := newApp(func(text *render.Text) session.ViewFactory {
		return func(string) tree.View { return render.NewWriter(os.Stdout, text) }
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	b := &browser{app: a, out: os.Stdout}
	if len(args) == 2 {
		b.exec("query " + strings.Join(args, " "))
	}
	b.serve(os.Stdin)
}

// browser executes stdin commands against the app's session.
type browser struct {
	app *app
	out io.Writer
}

func (b *browser) serve(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if !b.exec(scanner.Text()) {
			return
		}
	}
}

// exec runs one command. It reports false when the browser should exit.
func (b *browser) exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	s := b.app.session

	switch fields[0] {
	case "quit", "q", "exit":
		return false
	case "query":
		if len(fields) != 3 {
			fmt.Fprintln(b.out, "usage: query <kind> <file:line:col>")
			return true
		}
		b.query(protocol.Kind(fields[1]), fields[2])
	case "next", "n":
		_ = b.app.run(func() { s.Next() })
	case "prev", "p", "previous":
		_ = b.app.run(func() { s.Previous() })
	case "toggle", "t":
		_ = b.app.run(func() { s.Toggle() })
	case "open", "o":
		_ = b.app.run(func() { s.Open() })
	case "close", "c":
		_ = b.app.run(func() { s.Fold() })
	case "jump", "j":
		_ = b.app.run(func() {
			if loc := s.Jump(); loc != nil {
				fmt.Fprintf(b.out, "%s:%d:%d\n", loc.Filename, loc.StartLine+1, loc.StartCol+1)
			}
		})
	case "show", "s":
		_ = b.app.run(b.update)
	default:
		fmt.Fprintf(b.out, "unknown command %q\n", fields[0])
	}
	return true
}

func (b *browser) query(kind protocol.Kind, arg string) {
	pos, err := parsePosition(arg)
	if err != nil {
		fmt.Fprintln(b.out, err)
		return
	}
	cursor := pos.cursor(b.app.root)
	ctx, cancel := context.WithTimeout(context.Background(), browseTimeout)
	defer cancel()
	o, err := b.app.query(ctx, session.Request{
		Kind:     kind,
		Cursor:   cursor,
		LineText: lineText(b.app.files, cursor),
	})
	if err != nil {
		fmt.Fprintln(b.out, err)
		return
	}
	for _, msg := range o.Messages {
		fmt.Fprintln(b.out, msg)
	}
	switch {
	case o.Jump != nil:
		fmt.Fprintf(b.out, "%s:%d:%d\n", o.Jump.Filename, o.Jump.StartLine+1, o.Jump.StartCol+1)
	case o.Empty():
		fmt.Fprintln(b.out, "No locations.")
	}
}

// update re-renders the active list. It must run on the loop.
func (b *browser) update() {
	if list, _ := b.app.session.Active(); list != nil {
		list.Update()
	}
}
