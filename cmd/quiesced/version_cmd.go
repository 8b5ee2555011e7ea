package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/quiesce/internal/version"
)

// versionLine is what `quiesced version` prints, revision included when
// the build carries VCS metadata.
func versionLine() string {
	line := version.Module() + " " + version.Current()
	if rev := version.Revision(); rev != "" {
		line += " (" + rev + ")"
	}
	return line
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the quiesced version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), versionLine())
			return err
		},
	}
}
