package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newFingerprintCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Prints the live homepage fingerprint of a target",
		Long: `Fetches the homepage of --url and prints the hex digest of its body, or
"unknown" when it could not be fetched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			fp := appInstance.Fingerprinter()
			if fp == nil {
				return errors.New("fingerprinting is disabled")
			}
			result, ok := fp.Compute(cmd.Context(), target)
			if !ok {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "unknown")
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), result.Digest)
			return err
		},
	}
	cmd.Flags().StringVar(&target, "url", "", "URL whose homepage to fingerprint")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
