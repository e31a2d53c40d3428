package cmd

import (
	"fmt"

	"screenlink/pkg/accesscode"

	"github.com/spf13/cobra"
)

var codeCmd = &cobra.Command{
	Use:   "code",
	Short: "Prints a freshly generated access code.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), accesscode.Generate())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(codeCmd)
}
