package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/alexanderjulianmartinez/db-transfer/internal/config"
	"github.com/alexanderjulianmartinez/db-transfer/internal/events"
	"github.com/alexanderjulianmartinez/db-transfer/internal/events/kafka"
	"github.com/alexanderjulianmartinez/db-transfer/internal/logging"
	"github.com/alexanderjulianmartinez/db-transfer/internal/source/mysql"
	"github.com/alexanderjulianmartinez/db-transfer/internal/transfer"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("DBTRANSFER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "dbtransfer",
		Short: "Copy MySQL tables between databases",
		Long: `Copies tables from a source MySQL database to a target database in
batches, creating missing target tables from the source definition.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "config.json", "path to the configuration file (JSON or YAML)")
	root.PersistentFlags().Int("batch-size", 0, "rows per batch, overrides the configuration file")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	_ = v.BindPFlags(root.PersistentFlags())

	root.AddCommand(
		newRunCmd(v),
		newCopyCmd(v),
		newDatabasesCmd(v),
		newTablesCmd(v),
		newInfoCmd(v),
		newDiffCmd(v),
		newServeCmd(v),
		newVersionCmd(),
	)
	return root
}

// app carries what every command builds from the configuration.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	manager   *mysql.Manager
	publisher *kafka.Publisher
	closeLog  func()
}

type setupOptions struct {
	// defaultLogFile applies when the configuration names no log file.
	defaultLogFile string
	// defaultLevel applies when neither the flag nor the file sets a level.
	defaultLevel string
}

func setup(v *viper.Viper, opts setupOptions) (*app, error) {
	cfg, err := config.LoadConfig(v.GetString("config"))
	if err != nil {
		return nil, err
	}
	if n := v.GetInt("batch-size"); n > 0 {
		cfg.BatchSize = n
	}
	if lvl := v.GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = opts.defaultLevel
	}
	if cfg.Log.File == "" {
		cfg.Log.File = opts.defaultLogFile
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		manager:  mysql.NewManager(logger),
		closeLog: closeLog,
	}
	if cfg.Events.Kafka.Enabled() {
		a.publisher = kafka.New(cfg.Events.Kafka, logger)
		logger.Info("publishing transfer events",
			zap.Strings("brokers", cfg.Events.Kafka.Brokers),
			zap.String("topic", cfg.Events.Kafka.Topic))
	}
	return a, nil
}

// service builds the transfer service, observed by the log, the Kafka
// publisher when configured, and extra.
func (a *app) service(extra ...events.Observer) *transfer.Service {
	observers := []events.Observer{events.NewLogger(a.logger)}
	if a.publisher != nil {
		observers = append(observers, a.publisher.Observer())
	}
	observers = append(observers, extra...)
	return transfer.NewService(a.cfg, a.manager, transfer.Options{
		Logger:   a.logger,
		Observer: events.Multi(observers...),
	})
}

func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("close kafka writer", zap.Error(err))
		}
	}
	a.closeLog()
}
