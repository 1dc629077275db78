package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/traderepublic/broker-session/core/wire"
)

var (
	subscribeTopic   string
	subscribePayload string
	subscribeTimeout time.Duration
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Open a subscription and print every frame until timeout or ctrl-c",
	Long: `Authenticates, opens one subscription against topic with payload, and prints
each decoded A/D/C/E frame as it arrives. Unlike await-answer this does not
tear down on the first answer — it streams until --timeout elapses, the
broker completes the stream with a C frame, or the connection reports an
error.`,
	RunE: runSubscribe,
}

func init() {
	rootCmd.AddCommand(subscribeCmd)

	subscribeCmd.Flags().StringVarP(&subscribeTopic, "topic", "t", "", "subscription topic, e.g. ticker (required)")
	subscribeCmd.Flags().StringVarP(&subscribePayload, "payload", "p", "{}", "JSON object merged into the sub frame body")
	subscribeCmd.Flags().DurationVar(&subscribeTimeout, "timeout", 30*time.Second, "how long to stream before tearing down")
	subscribeCmd.MarkFlagRequired("topic")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	defer cancel()

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(subscribePayload), &payload); err != nil {
		return fmt.Errorf("subscribe: invalid --payload: %w", err)
	}

	live, err := authenticate(ctx)
	if err != nil {
		return err
	}
	defer live.conn.Close()

	id, ch, err := live.facade.Subscribe(subscribeTopic, payload)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer live.facade.Unsubscribe(id)

	fmt.Printf("subscribed, id=%d topic=%s\n", id, subscribeTopic)

	for {
		select {
		case ev := <-ch:
			if ev.Err != nil {
				return fmt.Errorf("subscribe: %w", ev.Err)
			}
			printEvent(ev.Code, ev.Payload)
			if ev.Code == wire.CodeComplete {
				return nil
			}
		case <-ctx.Done():
			fmt.Println("timeout reached")
			return nil
		}
	}
}

func printEvent(code wire.Code, payload interface{}) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		fmt.Printf("[%c] <unencodable payload: %v>\n", code, err)
		return
	}
	fmt.Printf("[%c] %s\n", code, encoded)
}
