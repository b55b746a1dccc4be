package main

import (
	"fmt"

	"voltask/internal/client/slot"
	"voltask/pkg/errors"

	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:   "archive <file>",
	Short: "List the files kept in a failed-slot archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchive,
}

func init() {
	archiveCmd.Flags().String("show", "", "Print the content of one archived file")
}

func runArchive(cmd *cobra.Command, args []string) error {
	entries, err := slot.ReadArchive(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	show, _ := cmd.Flags().GetString("show")
	if show != "" {
		for _, e := range entries {
			if e.Name == show {
				_, err := out.Write(e.Data)
				return err
			}
		}
		return errors.Newf(errors.NotFound, "%s is not in %s", show, args[0])
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%8d  %s\n", e.Size, e.Name)
	}
	return nil
}
