package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/traderepublic/broker-session/core/keystore"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Inspect or forget the local device key pair",
}

var keysShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Generate (on first use) and print the device key pair's public point",
	Long: `Loads the P-256 key pair stored at <config-dir>/keys.json, generating and
persisting one on first use, and prints its raw uncompressed public point
as base64.`,
	RunE: runKeysShow,
}

var keysForgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Destroy the persisted device key pair",
	Long:  `Removes <config-dir>/keys.json. A fresh key pair is generated on next use.`,
	RunE:  runKeysForget,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysShowCmd, keysForgetCmd)
}

func runKeysShow(cmd *cobra.Command, args []string) error {
	store := keystore.New(cfg.ConfigDir)

	kp, err := store.LoadOrGenerate()
	if err != nil {
		return fmt.Errorf("keys show: %w", err)
	}

	pub, err := keystore.PublicKeyBase64(kp.Public)
	if err != nil {
		return fmt.Errorf("keys show: %w", err)
	}

	fmt.Printf("public key: %s\n", pub)
	return nil
}

func runKeysForget(cmd *cobra.Command, args []string) error {
	store := keystore.New(cfg.ConfigDir)
	if err := store.Destroy(); err != nil {
		return fmt.Errorf("keys forget: %w", err)
	}
	fmt.Println("key pair destroyed")
	return nil
}
