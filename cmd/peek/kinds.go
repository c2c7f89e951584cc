package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"peek/internal/protocol"
)

var kindsFormat string

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List the request kinds",
	Long:  "List the built-in request kinds and the extra kinds registered in the config.",
	Args:  cobra.NoArgs,
	Run:   runKinds,
}

func init() {
	kindsCmd.Flags().StringVar(&kindsFormat, "format", "text", "Output format (text, json)")
	rootCmd.AddCommand(kindsCmd)
}

// kindInfo is the JSON form of one kind.
type kindInfo struct {
	Kind        protocol.Kind `json:"kind"`
	Label       string        `json:"label"`
	Method      string        `json:"method"`
	Prepare     string        `json:"prepare,omitempty"`
	NonStandard bool          `json:"nonStandard,omitempty"`
}

func runKinds(cmd *cobra.Command, args []string) {
	root, err := workspaceRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := loadConfig(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	methods, err := newMethods(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := writeKinds(os.Stdout, methods, kindsFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func writeKinds(w io.Writer, methods *protocol.Methods, format string) error {
	all := methods.All()
	switch format {
	case "json":
		out := make([]kindInfo, 0, len(all))
		for _, m := range all {
			out = append(out, kindInfo{Kind: m.Kind, Label: m.Label, Method: m.Method, Prepare: m.Prepare, NonStandard: m.NonStandard})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "text":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KIND\tLABEL\tMETHOD")
		for _, m := range all {
			method := m.Method
			if m.IsHierarchy() {
				method = m.Prepare + " -> " + m.Method
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Kind, m.Label, method)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}
