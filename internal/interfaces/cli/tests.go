package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/reachforge/outreach-core/pkg/client"
)

// NewTestsCmd returns the outreachctl tests subcommand group.
func NewTestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tests",
		Short: "Manage A/B tests",
		Long:  "Create, list, activate, and complete outreach A/B tests.",
	}

	cmd.AddCommand(
		newTestsCreateCmd(),
		newTestsListCmd(),
		newTestsGetCmd(),
		newTestsActivateCmd(),
		newTestsResultsCmd(),
		newTestsWinnerCmd(),
	)

	return cmd
}

func newTestsCreateCmd() *cobra.Command {
	var (
		file     string
		activate bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a test from a JSON definition",
		Long:  "Create a new A/B test from a JSON file describing its variants and goals. Use '-' to read from stdin.",
		Example: `  outreachctl tests create -f test.json
  cat test.json | outreachctl tests create -f - --activate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			var reader io.Reader
			if file == "-" {
				reader = cmd.InOrStdin()
			} else {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open definition file: %w", err)
				}
				defer f.Close()
				reader = f
			}

			var req client.CreateTestRequest
			if err := json.NewDecoder(reader).Decode(&req); err != nil {
				return fmt.Errorf("parse test definition: %w", err)
			}
			if activate {
				req.Activate = true
			}

			test, err := cliCtx.Client.CreateTest(cmd.Context(), req)
			if err != nil {
				return err
			}

			PrintSuccess(cmd, fmt.Sprintf("created test %s (%s)", test.ID, test.Status))
			return PrintResult(cmd, testView{*test})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the JSON test definition ('-' for stdin)")
	cmd.Flags().BoolVar(&activate, "activate", false, "activate the test immediately")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newTestsListCmd() *cobra.Command {
	var (
		status   string
		page     int
		pageSize int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			list, err := cliCtx.Client.ListTests(cmd.Context(), status, client.Pagination{
				Page:     page,
				PageSize: pageSize,
			})
			if err != nil {
				return err
			}

			return PrintResult(cmd, testListView{*list})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (draft, active, completed, cancelled)")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "page size")

	return cmd
}

func newTestsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <test-id>",
		Short: "Show one test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			test, err := cliCtx.Client.GetTest(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return PrintResult(cmd, testView{*test})
		},
	}
}

func newTestsActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <test-id>",
		Short: "Activate a draft test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			test, err := cliCtx.Client.ActivateTest(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			PrintSuccess(cmd, fmt.Sprintf("test %s is now %s", test.ID, test.Status))
			return nil
		},
	}
}

func newTestsResultsCmd() *cobra.Command {
	var csvOut string

	cmd := &cobra.Command{
		Use:   "results <test-id>",
		Short: "Show computed results for a test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			if csvOut != "" {
				body, err := cliCtx.Client.ExportResults(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if csvOut == "-" {
					_, err = cmd.OutOrStdout().Write(body)
					return err
				}
				if err := os.WriteFile(csvOut, body, 0o644); err != nil {
					return fmt.Errorf("write export file: %w", err)
				}
				PrintSuccess(cmd, fmt.Sprintf("exported results to %s", csvOut))
				return nil
			}

			results, err := cliCtx.Client.GetResults(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return PrintResult(cmd, resultsView{*results})
		},
	}

	cmd.Flags().StringVar(&csvOut, "csv", "", "export as CSV to the given file ('-' for stdout)")

	return cmd
}

func newTestsWinnerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "winner <test-id> <variant-id>",
		Short: "Declare the winning variant and complete the test",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			test, err := cliCtx.Client.DeclareWinner(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			PrintSuccess(cmd, fmt.Sprintf("test %s completed, winner %s", test.ID, args[1]))
			return nil
		},
	}
}

// testView renders a single test as a one-row table.
type testView struct {
	client.Test
}

func (v testView) TableHeaders() []string {
	return []string{"ID", "NAME", "TYPE", "STATUS", "VARIANTS", "TARGET", "WINNER", "CREATED"}
}

func (v testView) TableRows() [][]string {
	return [][]string{testRow(v.Test)}
}

// testListView renders a page of tests.
type testListView struct {
	client.TestList
}

func (v testListView) TableHeaders() []string {
	return testView{}.TableHeaders()
}

func (v testListView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Tests))
	for _, t := range v.Tests {
		rows = append(rows, testRow(t))
	}
	return rows
}

func testRow(t client.Test) []string {
	winner := "-"
	if t.WinnerVariantID != nil {
		winner = *t.WinnerVariantID
	}
	return []string{
		t.ID,
		t.Name,
		t.Type,
		t.Status,
		strconv.Itoa(len(t.Variants)),
		strconv.Itoa(t.TargetCount),
		winner,
		t.CreatedAt.Format(time.RFC3339),
	}
}

// resultsView renders per-variant metrics.
type resultsView struct {
	client.TestResults
}

func (v resultsView) TableHeaders() []string {
	return []string{"VARIANT", "NAME", "SENT", "RESPONDED", "POSITIVE", "SHIPPED", "FAILED", "RESP%", "CONV%"}
}

func (v resultsView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Variants))
	for _, r := range v.Variants {
		rows = append(rows, []string{
			r.VariantID,
			r.VariantName,
			strconv.FormatInt(r.SentCount, 10),
			strconv.FormatInt(r.RespondedCount, 10),
			strconv.FormatInt(r.PositiveCount, 10),
			strconv.FormatInt(r.ShippedCount, 10),
			strconv.FormatInt(r.FailedCount, 10),
			fmt.Sprintf("%.1f", r.ResponseRate*100),
			fmt.Sprintf("%.1f", r.ConversionRate*100),
		})
	}
	return rows
}
