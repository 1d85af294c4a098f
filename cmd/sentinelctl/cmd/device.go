package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage device bindings",
}

var deviceUnlinkCmd = &cobra.Command{
	Use:   "unlink <email|national-id>",
	Short: "Remove the bound device of an account and close its sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		svc, err := e.services(cmd.Context())
		if err != nil {
			return err
		}

		account, err := svc.Accounts.Lookup(cmd.Context(), args[0])
		if err != nil {
			return describe(err)
		}
		if err := svc.Devices.UnlinkUserDevice(cmd.Context(), account.ID); err != nil {
			return describe(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "device of account %s unlinked\n", account.ID)
		return nil
	},
}

func init() {
	deviceCmd.AddCommand(deviceUnlinkCmd)
	rootCmd.AddCommand(deviceCmd)
}
