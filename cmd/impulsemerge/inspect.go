package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/impulsemerge/internal/status"
)

func newInspectCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <out-directory>",
		Short: "Show what a merge run left in its output directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := status.Inspect(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStatus(a.out, st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	return cmd
}

func printStatus(w io.Writer, st *status.MergeStatus) {
	fmt.Fprintf(w, "Output: %s\n", st.OutDir)
	if !st.HasTarget {
		fmt.Fprintln(w, "  No merged library found.")
	}

	for _, imp := range st.Impulses {
		marker := "  "
		if imp.Base {
			marker = "->"
		}
		fmt.Fprintf(w, "  %s Impulse %-12s [deploy version %s]\n", marker, imp.ID, imp.DeployVersion)
	}

	if st.HasTarget {
		fmt.Fprintf(w, "  labels: %s  last layer: %s  anomaly: %s\n",
			orDash(st.LabelCount), orDash(st.LastLayer), orDash(st.AnomalyType))
		if st.FFTSize > 0 {
			fmt.Fprintf(w, "  fft: %d\n", st.FFTSize)
		}
		if st.FullTFLite {
			fmt.Fprintln(w, "  full TensorFlow Lite")
		}
		driver := "missing"
		if st.HasDriver {
			driver = "present"
		}
		fmt.Fprintf(w, "  driver: %s\n", driver)
	}

	if st.Archive != "" {
		fmt.Fprintf(w, "  archive: %s (%d entries)\n", st.Archive, st.ArchiveEntries)
	}
	if r := st.Report; r != nil {
		fmt.Fprintf(w, "  run %s: %d warnings, %d collisions\n", r.RunID, len(r.Warnings), len(r.Collisions))
		if r.Error != "" {
			fmt.Fprintf(w, "  failed: %s\n", r.Error)
		}
	}

	if st.Complete() {
		fmt.Fprintln(w, "  Merge complete.")
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
