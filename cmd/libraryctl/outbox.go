package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox"
)

func newOutboxCmd(bootstrap bootstrapFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect dead-lettered notifications and send them again",
	}
	dlq := &cobra.Command{
		Use:   "dlq",
		Short: "Dead-letter queue commands",
	}
	dlq.AddCommand(newDLQListCmd(bootstrap))
	cmd.AddCommand(dlq, newRequeueCmd(bootstrap))
	return cmd
}

type dlqEntry struct {
	EventID      uuid.UUID `json:"eventId"`
	EventType    string    `json:"eventType"`
	AggregateID  uuid.UUID `json:"aggregateId"`
	ErrorReason  string    `json:"errorReason"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	AttemptCount int       `json:"attemptCount"`
	FailedAt     time.Time `json:"failedAt"`
}

func newDLQListCmd(bootstrap bootstrapFunc) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent dead letters",
		Args:  cobra.NoArgs,
		RunE: withApp(bootstrap, func(cmd *cobra.Command, a *app, _ []string) error {
			rows, err := outbox.NewDLQRepository(a.db.DB()).List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			entries := make([]dlqEntry, 0, len(rows))
			for _, row := range rows {
				entry := dlqEntry{
					EventID:      row.EventID,
					EventType:    string(row.EventType),
					AggregateID:  row.AggregateID,
					ErrorReason:  string(row.ErrorReason),
					AttemptCount: row.AttemptCount,
					FailedAt:     row.FailedAt.UTC(),
				}
				if row.ErrorMessage != nil {
					entry.ErrorMessage = *row.ErrorMessage
				}
				entries = append(entries, entry)
			}
			return printJSON(cmd, entries)
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to show (0 shows 50)")
	return cmd
}

func newRequeueCmd(bootstrap bootstrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue EVENT_ID",
		Short: "Put a dead-lettered event back on the outbox",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(bootstrap, func(cmd *cobra.Command, a *app, args []string) error {
			eventID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid event id %q: %w", args[0], err)
			}
			repo := outbox.NewDLQRepository(a.db.DB())
			if err := a.db.WithTx(cmd.Context(), func(tx *gorm.DB) error {
				_, err := repo.RequeueTx(tx, eventID)
				return err
			}); err != nil {
				return err
			}
			a.logg.Info(a.logg.WithField(cmd.Context(), "event_id", eventID.String()), "outbox event requeued")
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", eventID)
			return nil
		}),
	}
}
