package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/socketdev/binject/internal/engine"
)

// jsonSummary mirrors engine.Summary but renders Kind as its name instead of
// its underlying int, for the --json output mode.
type jsonSummary struct {
	Kind       string `json:"kind"`
	Container  string `json:"container"`
	FileOffset uint64 `json:"file_offset"`
	PayloadLen uint64 `json:"payload_len"`
	Checksum   uint32 `json:"checksum"`
}

func newListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list INPUT",
		Short: "List the resources injected into an executable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o := newOrchestrator()
			summaries, err := o.List(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(toJSONSummaries(summaries))
			}
			for _, s := range summaries {
				fmt.Fprintf(out, "%s\t%s\toffset=%d\tlen=%d\tcrc=%08x\n",
					s.Kind, s.Container, s.FileOffset, s.PayloadLen, s.Checksum)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print resource summaries as a JSON array")
	return cmd
}

func toJSONSummaries(summaries []engine.Summary) []jsonSummary {
	out := make([]jsonSummary, len(summaries))
	for i, s := range summaries {
		out[i] = jsonSummary{
			Kind:       s.Kind.String(),
			Container:  s.Container,
			FileOffset: s.FileOffset,
			PayloadLen: s.PayloadLen,
			Checksum:   s.Checksum,
		}
	}
	return out
}
