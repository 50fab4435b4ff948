package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

// output writes v as indented JSON, or calls text for the text format.
func output(cmd *cobra.Command, opts *RootOptions, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
