package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alexanderjulianmartinez/db-transfer/internal/drift"
	"github.com/alexanderjulianmartinez/db-transfer/internal/events"
	"github.com/alexanderjulianmartinez/db-transfer/internal/progress"
	"github.com/alexanderjulianmartinez/db-transfer/internal/server"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Transfer every table listed in the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(v, setupOptions{defaultLogFile: "transfer.log"})
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.service(progressObserver(cmd)).TransferAllTables(cmd.Context())
			printSummary(cmd.OutOrStdout(), res)
			if !res.Succeeded() {
				return errRunFailed
			}
			return nil
		},
	}
	addProgressFlag(cmd)
	return cmd
}

func newCopyCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copy SOURCE_DB TARGET_DB TABLE",
		Short: "Transfer one table between two databases on the configured server",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceDB, targetDB, table := args[0], args[1], args[2]
			if sourceDB == targetDB {
				return fmt.Errorf("source and target databases cannot be the same")
			}
			a, err := setup(v, setupOptions{defaultLogFile: "transfer.log"})
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.service(progressObserver(cmd)).TransferSingleTable(cmd.Context(), sourceDB, targetDB, table)
			printSummary(cmd.OutOrStdout(), res)
			if !res.Succeeded() {
				return errRunFailed
			}
			return nil
		},
	}
	addProgressFlag(cmd)
	return cmd
}

func newDatabasesCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "databases",
		Short: "List user databases on the configured server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(v, setupOptions{defaultLevel: "warn"})
			if err != nil {
				return err
			}
			defer a.Close()

			dbs, err := a.service().ListDatabases(cmd.Context())
			if err != nil {
				return err
			}
			for _, db := range dbs {
				fmt.Fprintln(cmd.OutOrStdout(), db)
			}
			return nil
		},
	}
}

func newTablesCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "tables DATABASE",
		Short: "List the tables of a database with their row counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(v, setupOptions{defaultLevel: "warn"})
			if err != nil {
				return err
			}
			defer a.Close()

			svc := a.service()
			tables, err := svc.ListTables(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TABLE\tROWS")
			for _, table := range tables {
				rows := "?"
				if info, err := svc.TableInfo(cmd.Context(), args[0], table); err == nil {
					rows = fmt.Sprint(info.RowCount)
				}
				fmt.Fprintf(tw, "%s\t%s\n", table, rows)
			}
			return tw.Flush()
		},
	}
}

func newInfoCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "info DATABASE TABLE",
		Short: "Show the row count and columns of a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(v, setupOptions{defaultLevel: "warn"})
			if err != nil {
				return err
			}
			defer a.Close()

			info, err := a.service().TableInfo(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s.%s: %d rows\n\n", info.Database, info.Name, info.RowCount)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "COLUMN\tTYPE\tNULL\tKEY")
			for _, c := range info.Columns {
				null := "NO"
				if c.Nullable {
					null = "YES"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.Type, null, c.Key)
			}
			return tw.Flush()
		},
	}
}

func newDiffCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "diff [TABLE...]",
		Short: "Compare source and target table columns without changing either",
		Long: `Compares the columns of each table in the configured source and target
databases. Defaults to the tables listed in the configuration. Exits non-zero
when a difference would block a transfer.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(v, setupOptions{defaultLevel: "warn"})
			if err != nil {
				return err
			}
			defer a.Close()

			tables := args
			if len(tables) == 0 {
				tables = a.cfg.Tables
			}
			if len(tables) == 0 {
				return fmt.Errorf("no tables given and none configured")
			}

			svc := a.service()
			out := cmd.OutOrStdout()
			blocking := false
			for _, table := range tables {
				rep, err := svc.CompareTable(cmd.Context(), table)
				if err != nil {
					return err
				}
				printDrift(out, rep)
				blocking = blocking || rep.Blocking()
			}
			if blocking {
				return errRunFailed
			}
			return nil
		},
	}
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API and progress stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(v, setupOptions{defaultLogFile: "transfer.log"})
			if err != nil {
				return err
			}
			defer a.Close()

			addr := v.GetString("addr")
			if addr == "" {
				addr = a.cfg.HTTP.Addr
			}

			tracker := progress.NewTracker()
			hub := server.NewHub(a.logger)
			svc := a.service(tracker, hub.Observer())
			srv := server.New(cmd.Context(), svc, tracker, hub, a.logger)
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().String("addr", "", "listen address, overrides http.addr")
	_ = v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "dbtransfer", version)
		},
	}
}

func addProgressFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("progress", true, "draw a progress bar per table on stderr")
}

func progressObserver(cmd *cobra.Command) events.Observer {
	if on, _ := cmd.Flags().GetBool("progress"); !on {
		return nil
	}
	return newBarObserver(cmd.ErrOrStderr())
}

func printDrift(w io.Writer, rep *drift.Report) {
	if len(rep.Issues) == 0 {
		fmt.Fprintf(w, "%s: no differences\n", rep.Table)
		return
	}
	fmt.Fprintf(w, "%s:\n", rep.Table)
	for _, iss := range rep.Issues {
		line := iss.Message
		if iss.Column != "" {
			line = iss.Column + ": " + line
		}
		if iss.FromType != "" {
			line += fmt.Sprintf(" (%s -> %s)", iss.FromType, iss.ToType)
		}
		fmt.Fprintf(w, "  [%s] %s\n", iss.Severity, line)
	}
}
