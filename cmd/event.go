package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/frahmantamala/rental-management/internal/core/events"
	"github.com/frahmantamala/rental-management/pkg/logger"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Manage events: publish sample lifecycle events through the log subscribers`,
}

var publishEventCmd = &cobra.Command{
	Use:       "publish [event-type]",
	Short:     "Publish a sample lifecycle event",
	Long:      `Publish a sample approval or reconciliation event to an in-process bus for debugging subscribers`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: events.LifecycleEventTypes,
	Run: func(cmd *cobra.Command, args []string) {
		if err := publishSampleEvent(args[0]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

var (
	eventResourceID string
	eventActorID    string
)

func publishSampleEvent(eventType string) error {
	if !slices.Contains(events.LifecycleEventTypes, eventType) {
		return fmt.Errorf("unknown event type %q, expected one of %v", eventType, events.LifecycleEventTypes)
	}

	logger := logger.LoggerWrapper()
	eventBus := events.NewEventBus(logger)
	events.RegisterLogSubscribers(eventBus, logger)

	var event events.Event
	if eventType == events.EventTypePaymentReconciled {
		event = events.NewPaymentReconciledEvent(eventResourceID, "0.00", "0.00", "Paid", time.Now())
	} else {
		event = events.NewApprovalEvent(eventType, fmt.Sprintf("cli-%d", time.Now().Unix()),
			"edit", "reservation", eventResourceID, eventActorID)
	}

	logger.Info("publishing sample event", "event_type", eventType, "event_id", event.EventID())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eventBus.Publish(ctx, event); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return eventBus.Drain(ctx)
}

func init() {
	publishEventCmd.Flags().StringVar(&eventResourceID, "resource-id", "sample-resource", "Resource or reservation id carried by the event")
	publishEventCmd.Flags().StringVar(&eventActorID, "actor-id", "cli", "Actor id carried by approval events")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}
