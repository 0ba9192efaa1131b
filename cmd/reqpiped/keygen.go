package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/reqpipe/internal/modules/apikey"
)

// NewKeygenCmd creates the keygen command.
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen [api-key]",
		Short: "Hash an API key for the apikey module",
		Long: `Keygen prints the SHA-256 hash of an API key in the form expected by
the apikey module. Without an argument a random key is generated.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runKeygen,
	}
	cmd.Flags().StringP("principal", "p", "", "Principal recorded for requests using this key")
	return cmd
}

func runKeygen(cmd *cobra.Command, args []string) error {
	key := ""
	if len(args) == 1 {
		key = args[0]
	} else {
		buf := make([]byte, 24)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		key = "rp-" + hex.EncodeToString(buf)
	}
	principal, _ := cmd.Flags().GetString("principal")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "API Key: %s\n", key)
	fmt.Fprintf(out, "SHA-256 Hash: %s\n", apikey.HashAPIKey(key))
	fmt.Fprintln(out, "\nAdd this to your config.yaml:")
	fmt.Fprintln(out, "  - type: apikey")
	fmt.Fprintln(out, "    apikey:")
	fmt.Fprintln(out, "      keys:")
	fmt.Fprintf(out, "        - key_hash: %q\n", apikey.HashAPIKey(key))
	if principal != "" {
		fmt.Fprintf(out, "          principal: %q\n", principal)
	}
	return nil
}
