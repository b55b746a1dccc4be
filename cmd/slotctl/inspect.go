package main

import (
	"fmt"

	"voltask/internal/client/initdata"
	"voltask/internal/client/slot"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <slot>",
	Short: "Show what a slot holds",
	Long: `Print the init data a worker was started with, the lock and marker
files present in the slot, its disk usage and the tail of its stderr.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().Int64("stderr-bytes", 2048, "Bytes of stderr to show (0 to skip)")
}

func runInspect(cmd *cobra.Command, args []string) error {
	dir, err := slotDir(args[0])
	if err != nil {
		return err
	}
	tail, _ := cmd.Flags().GetInt64("stderr-bytes")
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Slot %s\n", args[0])
	fmt.Fprintf(out, "  Directory:      %s\n", dir)
	fmt.Fprintf(out, "  Locked:         %t\n", slot.Locked(dir))
	fmt.Fprintf(out, "  Finish called:  %t\n", slot.FinishCalled(dir))
	fmt.Fprintf(out, "  Temporary exit: %t\n", slot.TemporaryExit(dir))
	if usage, err := slot.DiskUsage(dir); err == nil {
		fmt.Fprintf(out, "  Disk usage:     %.0f bytes\n", usage)
	}

	if names, err := slot.UploadFileRequests(dir); err == nil && len(names) > 0 {
		fmt.Fprintln(out, "  Upload requests:")
		for _, name := range names {
			fmt.Fprintf(out, "    - %s\n", name)
		}
	}

	data, err := initdata.Read(dir)
	if err != nil {
		fmt.Fprintf(out, "  Init data:      unavailable (%v)\n", err)
	} else {
		fmt.Fprintln(out, "  Init data:")
		fmt.Fprintf(out, "    App:          %s v%d\n", data.AppName, data.AppVersion)
		fmt.Fprintf(out, "    Project:      %s\n", data.ProjectURL)
		fmt.Fprintf(out, "    Workunit:     %s\n", data.WUName)
		fmt.Fprintf(out, "    Result:       %s\n", data.ResultName)
		fmt.Fprintf(out, "    Segment:      %s\n", data.ShmKey)
		fmt.Fprintf(out, "    FPOPs bound:  %g\n", data.RscFpopsBound)
		fmt.Fprintf(out, "    Memory bound: %g\n", data.RscMemoryBound)
		fmt.Fprintf(out, "    Disk bound:   %g\n", data.RscDiskBound)
	}

	if tail > 0 {
		if stderr := slot.ReadStderr(dir, tail); stderr != "" {
			fmt.Fprintln(out, "  Stderr:")
			fmt.Fprintln(out, stderr)
		}
	}
	return nil
}
