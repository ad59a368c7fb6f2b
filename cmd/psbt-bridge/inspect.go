package main

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aegis-sign/psbt-bridge/internal/psbtinfo"
)

func newInspectCommand(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [psbt]",
		Short: "Print the transaction id and fee of a base64 or hex PSBT (reads stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := ""
			if len(args) == 1 {
				payload = args[0]
			} else {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				payload = string(raw)
			}
			details, err := psbtinfo.Parse(strings.TrimSpace(payload))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(details)
		},
	}
}
