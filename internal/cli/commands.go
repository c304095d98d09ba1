package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/godilite/kpi-dashboard/internal/config"
	handler "github.com/godilite/kpi-dashboard/internal/grpc"
	"github.com/godilite/kpi-dashboard/internal/repository"
	"github.com/godilite/kpi-dashboard/internal/service"
	"github.com/godilite/kpi-dashboard/internal/sheets"
	dbbuilder "github.com/godilite/kpi-dashboard/pkg/database"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
)

const dateLayout = "2006-01-02"

func newSummarizeCommand(cfg *config.Config) *cobra.Command {
	var format, at string

	cmd := &cobra.Command{
		Use:   "summarize <rows.json>",
		Short: "Normalize a local rows file into a dashboard summary",
		Example: `  # Print the summary as a table
  kpictl summarize rows.json

  # Normalize as of a given day
  kpictl summarize rows.json --now 2024-03-10 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			now, err := parseNow(at, cfg.Location)
			if err != nil {
				return err
			}

			body, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read rows: %w", err)
			}
			payload, err := sheets.Decode(body, http.StatusOK)
			if err != nil {
				return err
			}
			summary, err := service.SummaryFromPayload(payload, now)
			if err != nil {
				return err
			}
			return renderSummary(cmd.OutOrStdout(), summary, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table or json")
	cmd.Flags().StringVar(&at, "now", "", "reference day for the month goal (YYYY-MM-DD, default today)")
	return cmd
}

func newFetchCommand(cfg *config.Config) *cobra.Command {
	var format, url string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch once from the configured source and print the summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			payload, err := sheets.NewClient(url).Fetch(ctx)
			if err != nil {
				return err
			}
			summary, err := service.SummaryFromPayload(payload, time.Now().In(cfg.Location))
			if err != nil {
				return err
			}
			return renderSummary(cmd.OutOrStdout(), summary, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table or json")
	cmd.Flags().StringVar(&url, "url", cfg.SheetsAPIURL, "source URL (http(s):// or file://)")
	cmd.Flags().DurationVar(&timeout, "timeout", cfg.FetchTimeout, "fetch timeout")
	return cmd
}

func newStatusCommand(cfg *config.Config) *cobra.Command {
	var format, addr string
	var refresh bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the refresh status of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("connect %s: %w", addr, err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.FetchTimeout+5*time.Second)
			defer cancel()

			client := handler.NewDashboardClient(conn)
			call := client.GetStatus
			if refresh {
				call = client.Refresh
			}
			resp, err := call(ctx, &emptypb.Empty{})
			if err != nil {
				return err
			}

			var st service.Status
			if err := handler.DecodeStruct(resp, &st); err != nil {
				return err
			}
			return renderStatus(cmd.OutOrStdout(), st, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table or json")
	cmd.Flags().StringVar(&addr, "addr", fmt.Sprintf("localhost:%d", cfg.GRPCPort), "server gRPC address")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "run a refresh first and report its outcome")
	return cmd
}

func newSnapshotsCommand(cfg *config.Config) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List snapshots persisted in the SQLite store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("open snapshot store: %w", err)
			}
			db, err := dbbuilder.New(
				dbbuilder.WithDriver(cfg.DBDriver),
				dbbuilder.WithDataSource(dbPath),
				dbbuilder.WithRetry(1, 0),
			)
			if err != nil {
				return err
			}
			if err := repository.Migrate(db, zap.NewNop()); err != nil {
				_ = db.Close()
				return err
			}
			repo := repository.NewSnapshotRepository(db)
			defer repo.Close()

			entries, err := repo.List(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(w, "(no snapshots)")
				return nil
			}
			t := newTable(w, "Snapshots in "+dbPath)
			t.AppendHeader(table.Row{"Key", "Bytes", "Updated", "Expires"})
			for _, e := range entries {
				expires := "never"
				if e.ExpiresAt != nil {
					expires = e.ExpiresAt.Format(time.RFC3339)
				}
				t.AppendRow(table.Row{e.Key, len(e.Value), e.UpdatedAt.Format(time.RFC3339), expires})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", cfg.DBPath, "path to the SQLite snapshot database")
	return cmd
}

func parseNow(at string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if at == "" {
		return time.Now().In(loc), nil
	}
	t, err := time.ParseInLocation(dateLayout, at, loc)
	if err != nil {
		return time.Time{}, errors.New("--now must be YYYY-MM-DD")
	}
	return t, nil
}
