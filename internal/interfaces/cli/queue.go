package cli

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/reachforge/outreach-core/pkg/client"
)

// NewQueueCmd returns the outreachctl queue subcommand group.
func NewQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and feed the dispatch queue",
	}

	cmd.AddCommand(
		newQueueEnqueueCmd(),
		newQueueItemCmd(),
		newQueueAccountCmd(),
		newQueueStatsCmd(),
	)

	return cmd
}

func newQueueEnqueueCmd() *cobra.Command {
	var (
		accountKey string
		recipient  string
		payload    string
		priority   string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a single message",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			item, err := cliCtx.Client.Enqueue(cmd.Context(), client.EnqueueRequest{
				AccountKey: accountKey,
				Recipient:  recipient,
				Payload:    payload,
				Priority:   priority,
			})
			if err != nil {
				return err
			}

			PrintSuccess(cmd, fmt.Sprintf("enqueued %s (priority %s)", item.ID, item.Priority))
			return nil
		},
	}

	cmd.Flags().StringVar(&accountKey, "account", "", "sending account key")
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient address")
	cmd.Flags().StringVar(&payload, "payload", "", "message payload")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (high, normal, low)")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("recipient")
	_ = cmd.MarkFlagRequired("payload")

	return cmd
}

func newQueueItemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "item <item-id>",
		Short: "Show one queue item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			item, err := cliCtx.Client.GetQueueItem(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return PrintResult(cmd, itemView{*item})
		},
	}
}

func newQueueAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "account <account-key>",
		Short: "Show one account's queue depth and rate window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			status, err := cliCtx.Client.GetAccountStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return PrintResult(cmd, accountView{*status})
		},
	}
}

func newQueueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue-wide statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			stats, err := cliCtx.Client.GetQueueStats(cmd.Context())
			if err != nil {
				return err
			}

			return PrintResult(cmd, statsView{*stats})
		},
	}
}

// NewDispatchCmd returns the top-level dispatch command, which runs the
// assign-render-enqueue flow for one contact.
func NewDispatchCmd() *cobra.Command {
	var (
		testID     string
		contactID  string
		accountKey string
		recipient  string
		priority   string
	)

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Assign a variant and enqueue an outreach message for a contact",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			result, err := cliCtx.Client.Dispatch(cmd.Context(), client.DispatchRequest{
				TestID:     testID,
				ContactID:  contactID,
				AccountKey: accountKey,
				Recipient:  recipient,
				Priority:   priority,
			})
			if err != nil {
				return err
			}

			if result.Skipped {
				PrintSuccess(cmd, "skipped: variant at capacity")
				return nil
			}
			PrintSuccess(cmd, fmt.Sprintf("enqueued %s for variant %s", result.Item.ID, result.Item.Metadata.VariantID))
			return nil
		},
	}

	cmd.Flags().StringVar(&testID, "test", "", "test id")
	cmd.Flags().StringVar(&contactID, "contact", "", "contact id")
	cmd.Flags().StringVar(&accountKey, "account", "", "sending account key")
	cmd.Flags().StringVar(&recipient, "recipient", "", "recipient address")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (high, normal, low)")
	_ = cmd.MarkFlagRequired("test")
	_ = cmd.MarkFlagRequired("contact")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("recipient")

	return cmd
}

// NewHealthCmd returns the health command, probing the server's readiness.
func NewHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			if err := cliCtx.Client.Health(cmd.Context()); err != nil {
				return fmt.Errorf("server unhealthy: %w", err)
			}
			PrintSuccess(cmd, "server is healthy")
			return nil
		},
	}
}

// itemView renders a single queue item.
type itemView struct {
	client.QueueItem
}

func (v itemView) TableHeaders() []string {
	return []string{"ID", "ACCOUNT", "RECIPIENT", "PRIORITY", "STATUS", "ATTEMPTS", "SCHEDULED"}
}

func (v itemView) TableRows() [][]string {
	return [][]string{{
		v.ID,
		v.AccountKey,
		v.Recipient,
		v.Priority,
		v.Status,
		strconv.Itoa(v.Attempts),
		v.ScheduledAt.Format(time.RFC3339),
	}}
}

// accountView renders one account's rate window snapshot.
type accountView struct {
	client.AccountStatus
}

func (v accountView) TableHeaders() []string {
	return []string{"ACCOUNT", "IN_FLIGHT", "SENT_TODAY", "LIMIT", "REMAINING", "WINDOW_RESET"}
}

func (v accountView) TableRows() [][]string {
	return [][]string{{
		v.AccountKey,
		strconv.Itoa(v.InFlight),
		strconv.Itoa(v.SentToday),
		strconv.Itoa(v.DailyLimit),
		strconv.Itoa(v.Remaining),
		v.WindowResetAt.Format(time.RFC3339),
	}}
}

// statsView renders the queue-wide snapshot, one row per account.
type statsView struct {
	client.QueueStats
}

func (v statsView) TableHeaders() []string {
	return []string{"ACCOUNT", "DEPTH", "IN_FLIGHT", "SENT_TODAY", "REMAINING"}
}

func (v statsView) TableRows() [][]string {
	keys := make([]string, 0, len(v.Accounts))
	for key := range v.Accounts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		acct := v.Accounts[key]
		depth := 0
		for _, n := range acct.Depth {
			depth += n
		}
		rows = append(rows, []string{
			key,
			strconv.Itoa(depth),
			strconv.Itoa(acct.InFlight),
			strconv.Itoa(acct.SentToday),
			strconv.Itoa(acct.Remaining),
		})
	}
	return rows
}
