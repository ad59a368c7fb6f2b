package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aegis-sign/psbt-bridge/internal/page"
	"github.com/aegis-sign/psbt-bridge/internal/psbtinfo"
)

type extractOutput struct {
	Request page.SigningRequest `json:"request"`
	Details *psbtinfo.Details   `json:"details,omitempty"`
}

func newExtractCommand(opts *rootOptions) *cobra.Command {
	var htmlPath, paste string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract the signing request from a saved page, optionally pasting a signed PSBT",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(htmlPath)
			if err != nil {
				return err
			}
			defer f.Close()
			doc, err := page.ParseHTML(f)
			if err != nil {
				return fmt.Errorf("parse %s: %w", htmlPath, err)
			}
			extractor := page.NewExtractor(doc, page.Config{
				Selectors:   opts.cfg.Page.Selectors,
				SettleDelay: opts.cfg.Page.SettleDelay,
				Logger:      opts.logger,
			})
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if paste != "" {
				extractor.ApplySignedResult(ctx, paste)
				rendered, err := doc.Render()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, rendered)
				return err
			}
			result := extractOutput{Request: extractor.ExtractRequest(ctx)}
			if result.Request.PSBT != "" {
				if details, err := psbtinfo.Parse(result.Request.PSBT); err == nil {
					result.Details = &details
				} else {
					opts.logger.Debug("psbt details unavailable", "error", err)
				}
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&htmlPath, "html", "", "path to a saved HTML page")
	cmd.Flags().StringVar(&paste, "paste", "", "signed PSBT to write back; prints the updated page")
	_ = cmd.MarkFlagRequired("html")
	return cmd
}
