package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smallbiznis/penwork/internal/actorcontext"
	"github.com/smallbiznis/penwork/internal/config"
	"github.com/smallbiznis/penwork/internal/migration"
	"github.com/smallbiznis/penwork/internal/server"
	"github.com/smallbiznis/penwork/pkg/db"
	"gorm.io/gorm"
)

var rootCmd = &cobra.Command{
	Use:   "penworkctl",
	Short: "Operator tooling for the penwork API",
	Long: `penworkctl issues local access tokens, manages the database schema and
prints read-only views of the marketplace through the HTTP API.

Database and token settings come from the same environment variables as the
server (DATABASE_TYPE, DATABASE_HOST, AUTH_JWT_SECRET, ...).`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PENWORKCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("api", "http://localhost:8080", "API base URL")
	rootCmd.PersistentFlags().String("actor-id", "1", "admin id used to sign API requests")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("api", rootCmd.PersistentFlags().Lookup("api"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(paysheetCmd())
	rootCmd.AddCommand(assignmentCmd())
}

func tokenCmd() *cobra.Command {
	var (
		id   string
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an access token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID, err := snowflake.ParseString(strings.TrimSpace(id))
			if err != nil || actorID == 0 {
				return fmt.Errorf("invalid --id %q", id)
			}
			parsed, ok := actorcontext.ParseRole(role)
			if !ok || parsed == actorcontext.RoleSystem {
				return fmt.Errorf("invalid --role %q", role)
			}
			token, err := server.SignToken(config.Load().AuthJWTSecret, actorcontext.Actor{ID: actorID, Role: parsed}, time.Now(), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id")
	cmd.Flags().StringVar(&role, "role", "client", "role (admin, client, writer)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func migrateCmd() *cobra.Command {
	mig := &cobra.Command{Use: "migrate", Short: "Manage the database schema"}

	mig.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(cfg config.Config, conn *gorm.DB) error {
				if err := migration.Run(conn, cfg.DBType); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (postgres only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPostgres(func(conn *gorm.DB) error {
				sqlDB, err := conn.DB()
				if err != nil {
					return err
				}
				if err := migration.Down(sqlDB, steps); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	mig.AddCommand(down)

	mig.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied migration version (postgres only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPostgres(func(conn *gorm.DB) error {
				sqlDB, err := conn.DB()
				if err != nil {
					return err
				}
				version, dirty, err := migration.Version(sqlDB)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", version, dirty)
				return nil
			})
		},
	})
	return mig
}

type paysheetPeriod struct {
	ID            string `json:"id"`
	Period        string `json:"period"`
	Status        string `json:"paysheet_status"`
	TotalAmount   string `json:"total_amount"`
	PaidAmount    string `json:"paid_amount"`
	DueAmount     string `json:"due_amount"`
	PendingAmount string `json:"pending_amount"`
}

type writerPaysheets struct {
	WriterID      string           `json:"writer_id"`
	MonthlyTotals []paysheetPeriod `json:"monthly_totals"`
}

func paysheetCmd() *cobra.Command {
	ps := &cobra.Command{Use: "paysheet", Short: "Inspect writer paysheets"}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List writer paysheets",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if status != "" {
				query.Set("status", status)
			}
			var sheets []writerPaysheets
			if err := apiGet(cmd.Context(), "/api/paysheets", query, &sheets); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), sheets)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Paysheet", "Writer", "Period", "Status", "Total", "Paid", "Due", "Pending"})
			for _, sheet := range sheets {
				for _, p := range sheet.MonthlyTotals {
					tw.AppendRow(table.Row{p.ID, sheet.WriterID, p.Period, p.Status, p.TotalAmount, p.PaidAmount, p.DueAmount, p.PendingAmount})
				}
			}
			tw.Render()
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "status filter (paid, pending, due)")
	ps.AddCommand(list)
	return ps
}

type assignmentRow struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Status        string  `json:"status"`
	ClientID      string  `json:"client_id"`
	WriterID      *string `json:"writer_id"`
	ClientPrice   *string `json:"client_price"`
	PaymentStatus string  `json:"payment_status"`
	PayoutStatus  string  `json:"payout_status"`
}

func assignmentCmd() *cobra.Command {
	as := &cobra.Command{Use: "assignment", Short: "Inspect assignments"}

	var (
		status   []string
		pageSize int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			for _, s := range status {
				query.Add("status", s)
			}
			if pageSize > 0 {
				query.Set("page_size", fmt.Sprint(pageSize))
			}
			var rows []assignmentRow
			if err := apiGet(cmd.Context(), "/api/assignments", query, &rows); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"ID", "Title", "Status", "Client", "Writer", "Price", "Payment", "Payout"})
			for _, a := range rows {
				tw.AppendRow(table.Row{a.ID, a.Title, a.Status, a.ClientID, deref(a.WriterID), deref(a.ClientPrice), a.PaymentStatus, a.PayoutStatus})
			}
			tw.Render()
			return nil
		},
	}
	list.Flags().StringSliceVar(&status, "status", nil, "status filter, repeatable")
	list.Flags().IntVar(&pageSize, "page-size", 50, "page size")
	as.AddCommand(list)
	return as
}

func withDB(fn func(config.Config, *gorm.DB) error) error {
	cfg := config.Load()
	dialector, err := db.Dialect(cfg)
	if err != nil {
		return err
	}
	conn, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return fn(cfg, conn)
}

func withPostgres(fn func(*gorm.DB) error) error {
	return withDB(func(cfg config.Config, conn *gorm.DB) error {
		if driver, _, err := db.DSN(cfg); err != nil || driver != db.DriverPostgres {
			return fmt.Errorf("versioned migrations need postgres, DATABASE_TYPE is %q", cfg.DBType)
		}
		return fn(conn)
	})
}

// apiGet calls the API as an admin and decodes the "data" field.
func apiGet(ctx context.Context, path string, query url.Values, out any) error {
	adminID, err := snowflake.ParseString(viper.GetString("actor-id"))
	if err != nil {
		return fmt.Errorf("invalid --actor-id: %w", err)
	}
	token, err := server.SignToken(config.Load().AuthJWTSecret, actorcontext.Actor{ID: adminID, Role: actorcontext.RoleAdmin}, time.Now(), time.Minute)
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(viper.GetString("api"), "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error *struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("unexpected response (%s): %w", resp.Status, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: %s (%s)", resp.Status, envelope.Error.Message, envelope.Error.Code)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return errors.New(resp.Status)
	}
	return json.Unmarshal(envelope.Data, out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
