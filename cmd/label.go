// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/via-fydp/Basestation-SW/pkg/labels"
)

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Manage device labels",
	Long: `List and edit the labels shown in place of raw sensor and device ids.

Labels are stored in the label file (--labels, or device_config.json next to
the binary) and are picked up by the next run or monitor session.`,
}

var labelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all labels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openLabelRegistry(cmd)
		if err != nil {
			return err
		}
		return printLabels(os.Stdout, reg.All())
	},
}

var labelSetCmd = &cobra.Command{
	Use:   "set <id> <label>",
	Short: "Label a sensor or device id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openLabelRegistry(cmd)
		if err != nil {
			return err
		}
		if err := reg.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s -> %s\n", args[0], args[1])
		return nil
	},
}

var labelRenameCmd = &cobra.Command{
	Use:   "rename <old-label> <new-label>",
	Short: "Rename an existing label",
	Long: `Rename the entry whose label is <old-label>.

When no entry carries <old-label>, it is treated as an id and labelled
<new-label>.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openLabelRegistry(cmd)
		if err != nil {
			return err
		}
		renamed, err := reg.Rename(args[0], args[1])
		if err != nil {
			return err
		}
		if renamed {
			fmt.Printf("renamed %s -> %s\n", args[0], args[1])
		} else {
			fmt.Printf("no label %q, added %s -> %s\n", args[0], args[0], args[1])
		}
		return nil
	},
}

var labelClearCmd = &cobra.Command{
	Use:   "clear <label|all>",
	Short: "Remove a label, or every label with \"all\"",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openLabelRegistry(cmd)
		if err != nil {
			return err
		}
		return reg.Clear(args[0])
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
	labelCmd.AddCommand(labelListCmd, labelSetCmd, labelRenameCmd, labelClearCmd)
}

func openLabelRegistry(cmd *cobra.Command) (*labels.Registry, error) {
	cfg, log, err := setup(cmd, "")
	if err != nil {
		return nil, err
	}
	defer log.Close()
	return openLabels(cfg, log)
}

// printLabels writes id/label pairs sorted by id
func printLabels(w io.Writer, all map[string]string) error {
	if len(all) == 0 {
		_, err := fmt.Fprintln(w, "no labels")
		return err
	}

	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL")
	for _, id := range ids {
		fmt.Fprintf(tw, "%s\t%s\n", id, all[id])
	}
	return tw.Flush()
}
