package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/traderepublic/broker-session/core/facade"
	"github.com/traderepublic/broker-session/core/predicate"
)

var (
	awaitAnswerTopic   string
	awaitAnswerPayload string
	awaitAnswerTimeout time.Duration
)

var awaitAnswerCmd = &cobra.Command{
	Use:   "await-answer",
	Short: "Subscribe-and-await-first-answer: open a subscription and print the first A frame",
	Long: `Authenticates, opens a subscription against topic with payload, waits for the
first A frame (or a terminal E/C or timeout), tears the subscription down,
and prints the result.`,
	RunE: runAwaitAnswer,
}

var (
	awaitEventSpecFile string
	awaitEventTimeout  int
)

var awaitEventCmd = &cobra.Command{
	Use:   "await-event",
	Short: "Event-wait-until-predicate-or-timeout: block until a ticker condition fires",
	Long: `Authenticates, opens between one and five ticker subscriptions described by a
JSON spec file, and blocks until one of them satisfies its conditions or
--timeout-seconds elapses.

The spec file is a JSON array of objects:
  [{"topic": "ticker", "payload": {"isin": "US0378331005"},
    "logic": "ANY",
    "conditions": [{"field": "last", "operator": "GT", "threshold": 150}]}]`,
	RunE: runAwaitEvent,
}

func init() {
	rootCmd.AddCommand(awaitAnswerCmd, awaitEventCmd)

	awaitAnswerCmd.Flags().StringVarP(&awaitAnswerTopic, "topic", "t", "", "subscription topic (required)")
	awaitAnswerCmd.Flags().StringVarP(&awaitAnswerPayload, "payload", "p", "{}", "JSON object merged into the sub frame body")
	awaitAnswerCmd.Flags().DurationVar(&awaitAnswerTimeout, "timeout", 10*time.Second, "how long to wait for an answer")
	awaitAnswerCmd.MarkFlagRequired("topic")

	awaitEventCmd.Flags().StringVarP(&awaitEventSpecFile, "spec", "f", "", "path to the JSON event spec file (required)")
	awaitEventCmd.Flags().IntVar(&awaitEventTimeout, "timeout-seconds", 55, "seconds to wait before giving up (1-55)")
	awaitEventCmd.MarkFlagRequired("spec")
}

func runAwaitAnswer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(awaitAnswerPayload), &payload); err != nil {
		return fmt.Errorf("await-answer: invalid --payload: %w", err)
	}

	live, err := authenticate(ctx)
	if err != nil {
		return err
	}
	defer live.conn.Close()

	answer, err := live.facade.AwaitAnswer(ctx, awaitAnswerTopic, payload, awaitAnswerTimeout)
	if err != nil {
		return fmt.Errorf("await-answer: %w", err)
	}

	encoded, err := json.MarshalIndent(answer, "", "  ")
	if err != nil {
		return fmt.Errorf("await-answer: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}

// eventSpecFile mirrors facade.EventSpec but with JSON-friendly field
// names for the --spec file.
type eventSpecFile struct {
	Topic      string                 `json:"topic"`
	Payload    map[string]interface{} `json:"payload"`
	Logic      predicate.Logic        `json:"logic"`
	Conditions []conditionFile        `json:"conditions"`
}

type conditionFile struct {
	Field     predicate.Field    `json:"field"`
	Operator  predicate.Operator `json:"operator"`
	Threshold float64            `json:"threshold"`
}

func runAwaitEvent(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	specs, err := loadEventSpecFile(awaitEventSpecFile)
	if err != nil {
		return fmt.Errorf("await-event: %w", err)
	}

	live, err := authenticate(ctx)
	if err != nil {
		return err
	}
	defer live.conn.Close()

	verdict, err := live.facade.AwaitEvent(ctx, specs, awaitEventTimeout)
	if err != nil {
		return fmt.Errorf("await-event: %w", err)
	}

	encoded, err := json.MarshalIndent(verdict, "", "  ")
	if err != nil {
		return fmt.Errorf("await-event: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}

func loadEventSpecFile(path string) ([]facade.EventSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var parsed []eventSpecFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	specs := make([]facade.EventSpec, 0, len(parsed))
	for _, p := range parsed {
		conditions := make([]predicate.Condition, 0, len(p.Conditions))
		for _, c := range p.Conditions {
			conditions = append(conditions, predicate.Condition{
				Field:     c.Field,
				Operator:  c.Operator,
				Threshold: c.Threshold,
			})
		}
		specs = append(specs, facade.EventSpec{
			Topic:      p.Topic,
			Payload:    p.Payload,
			Conditions: conditions,
			Logic:      p.Logic,
		})
	}
	return specs, nil
}
