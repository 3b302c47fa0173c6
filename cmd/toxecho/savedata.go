package main

import (
	"fmt"
	"os"

	"github.com/opd-ai/toxecho/savedata"
	"github.com/spf13/cobra"
)

func newSavedataCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "savedata",
		Short: "works with echo bot save files",
	}
	cmd.AddCommand(newInspectCmd(global))
	return cmd
}

func newInspectCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect path/to/savefile",
		Short: "reports whether a save file is encrypted and checks the passphrase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "path:      %s\n", path)
			fmt.Fprintf(out, "size:      %d bytes\n", len(raw))

			if !savedata.IsEncrypted(raw) {
				fmt.Fprintln(out, "encrypted: no")
				return nil
			}
			fmt.Fprintln(out, "encrypted: yes")

			if global.passphrase == "" {
				return nil
			}
			blob, err := savedata.Decrypt(raw, global.passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "plaintext: %d bytes\n", len(blob))
			return nil
		},
	}
}
