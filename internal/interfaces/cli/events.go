package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reachforge/outreach-core/pkg/client"
)

// NewEventsCmd returns the outreachctl events subcommand group.
func NewEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Record performance events",
	}

	cmd.AddCommand(newEventsRecordCmd())

	return cmd
}

func newEventsRecordCmd() *cobra.Command {
	var (
		testID        string
		variantID     string
		contactID     string
		eventType     string
		sentiment     string
		responseHours float64
		failureReason string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record an event against a test variant",
		Example: `  outreachctl events record --test t1 --variant v1 --contact c1 --type sent
  outreachctl events record --test t1 --variant v1 --contact c1 --type responded --sentiment positive --response-hours 3.5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			event, err := cliCtx.Client.RecordEvent(cmd.Context(), testID, client.RecordEventRequest{
				VariantID:         variantID,
				ContactID:         contactID,
				Type:              eventType,
				Sentiment:         sentiment,
				ResponseTimeHours: responseHours,
				FailureReason:     failureReason,
			})
			if err != nil {
				return err
			}

			PrintSuccess(cmd, fmt.Sprintf("recorded %s event %s", event.Type, event.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&testID, "test", "", "test id")
	cmd.Flags().StringVar(&variantID, "variant", "", "variant id")
	cmd.Flags().StringVar(&contactID, "contact", "", "contact id")
	cmd.Flags().StringVar(&eventType, "type", "", "event type (sent, responded, shipped, failed)")
	cmd.Flags().StringVar(&sentiment, "sentiment", "", "response sentiment (positive, neutral, negative)")
	cmd.Flags().Float64Var(&responseHours, "response-hours", 0, "hours between send and response")
	cmd.Flags().StringVar(&failureReason, "reason", "", "failure reason")
	_ = cmd.MarkFlagRequired("test")
	_ = cmd.MarkFlagRequired("variant")
	_ = cmd.MarkFlagRequired("contact")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}
