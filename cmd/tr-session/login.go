package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the broker gateway and hold the session open",
	Long: `Runs the two-step REST handshake (phone/PIN, then the out-of-band second
factor), dials the streaming socket with the resulting cookie, and blocks
until the connection dies or the process is interrupted.`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	live, err := authenticate(ctx)
	if err != nil {
		return err
	}
	defer live.conn.Close()

	fmt.Printf("authenticated, state=%s\n", live.handshake.State())
	fmt.Println("streaming connection open, press ctrl-c to exit")

	return live.conn.Wait()
}
