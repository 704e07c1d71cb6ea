package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pinapelz/rasis/internal/application/worker"
	"github.com/pinapelz/rasis/internal/feed"
	"github.com/pinapelz/rasis/internal/formatter"
	"github.com/pinapelz/rasis/internal/logger/zaplogger"
	"github.com/pinapelz/rasis/internal/messaging"
	"github.com/pinapelz/rasis/internal/messaging/nsqclient/consumer"
	"github.com/pinapelz/rasis/internal/processor"
	"github.com/pinapelz/rasis/internal/publisher"
	"github.com/pinapelz/rasis/internal/ratelimit"
	"github.com/pinapelz/rasis/internal/repository/postgresql"
	"github.com/pinapelz/rasis/internal/tracing"
	"github.com/pinapelz/rasis/internal/version"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	var (
		cfgFile string
	)
	// rootCmd represents the base command when called without any subcommands
	rootCmd := &cobra.Command{
		Use:   "rasis-worker",
		Short: "Arcade news publication worker",
		Long:  `Command line worker that consumes pipeline triggers and publishes arcade news to the fediverse`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return startWorker(cfgFile)
		},
	}
	// One-shot pipeline run, for cron or manual operation without NSQ
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline cycle and exit",
		Long:  `Fetches feeds, queues new items and publishes up to the window capacity`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cfgFile, false)
		},
	}
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Execute one retention sweep and exit",
		Long:  `Removes posted entries and publish records older than the retention period`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cfgFile, true)
		},
	}
	// Version command, attached to root
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of application",
		Long:  `Software version`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Rasis worker version:", version.Version, "build on:", version.BuildTime)
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.AddCommand(runCmd, sweepCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// We read config file and use dependency injection to create worker
func startWorker(cfgFile string) error {
	logger, dispatcher, cleanup, err := buildDispatcher(cfgFile)
	if err != nil {
		return err
	}
	defer cleanup()

	consumeViperConfig := viper.Sub("consume")
	consumeCfg := &consumer.MessageConsumerConfig{}
	if err := consumeViperConfig.UnmarshalExact(&consumeCfg); err != nil {
		return fmt.Errorf("FATAL: failure reading 'consume' configuration, %v", err)
	}
	// Construct consumer with message handler
	pipelineProcessor := messaging.NewPipelineProcessor(dispatcher, logger)
	messageConsumer, err := consumer.New(consumeCfg, pipelineProcessor, logger)
	if err != nil {
		return fmt.Errorf("FATAL: consumer creation failed, %v", err)
	}
	wrkr := worker.New(messageConsumer, logger)
	return wrkr.Start()
}

// runOnce executes a single pipeline cycle or retention sweep and exits.
func runOnce(cfgFile string, sweep bool) error {
	logger, dispatcher, cleanup, err := buildDispatcher(cfgFile)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	if sweep {
		deleted, err := dispatcher.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("retention sweep failed: %w", err)
		}
		logger.Info("Retention sweep removed ", deleted, " records")
		return nil
	}
	report, err := dispatcher.Run(ctx)
	if err != nil {
		return fmt.Errorf("pipeline run failed after publishing %d entries: %w", report.Published, err)
	}
	logger.Infof("Pipeline run done: fetched %d, queued %d, published %d, pending %d",
		report.Fetched, report.NewlyQueued, report.Published, report.PendingRemaining)
	return nil
}

// buildDispatcher wires configuration, logging, tracing, storage, feeds,
// publisher and limits into a ready Dispatcher. The returned cleanup closes
// the tracer and flushes the logger.
func buildDispatcher(cfgFile string) (*zap.SugaredLogger, *processor.Dispatcher, func(), error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")      // optionally look for config in the working directory
		viper.SetConfigName("config") // name of config file (without extension)
	}
	// If the config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		return nil, nil, nil, fmt.Errorf("FATAL: error in config file %s, %v", viper.ConfigFileUsed(), err)
	}
	fmt.Println("Using config file:", viper.ConfigFileUsed())
	// Init logging
	logCfg := &zaplogger.Config{}
	if err := viper.UnmarshalKey("logging", logCfg); err != nil {
		return nil, nil, nil, fmt.Errorf("FATAL: Failure reading 'logging' configuration, %v", err)
	}
	zapLogger, err := zaplogger.New(logCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("FATAL: Cannot init logging, %v", err)
	}
	logger := zapLogger.Sugar()

	// Init tracing
	tracingCfg := tracing.Config{}
	if err := viper.UnmarshalKey("tracing", &tracingCfg); err != nil {
		return nil, nil, nil, fmt.Errorf("FATAL: Failure reading 'tracing' configuration, %v", err)
	}
	tracer, tracerCloser, err := tracing.New(tracingCfg, tracing.NewZapLogger(logger))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("FATAL: Cannot init tracing, %v", err)
	}
	cleanup := func() {
		tracerCloser.Close()
		logger.Sync()
	}

	// Create db configuration
	databaseViperConfig := viper.Sub("database")
	dbCfg := &postgresql.Config{}
	if err := databaseViperConfig.UnmarshalExact(dbCfg); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("FATAL: failure reading 'database' configuration: %v", err)
	}
	// Open db
	db, err := postgresql.New(dbCfg, postgresql.NewZapLogger(logger.Desugar()), tracer)
	if err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("FATAL: failure creating database connection, %v", err)
	}

	// Feed sources: the arcade news JSON endpoint plus optional RSS feeds
	feedCfg := feed.Config{}
	if err := viper.UnmarshalKey("feed", &feedCfg); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("FATAL: failure reading 'feed' configuration, %v", err)
	}
	sources := []processor.FeedSource{feed.NewClient(feedCfg)}
	var rssCfgs []feed.RSSConfig
	if err := viper.UnmarshalKey("rss", &rssCfgs); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("FATAL: failure reading 'rss' configuration, %v", err)
	}
	for _, rssCfg := range rssCfgs {
		rssSource, err := feed.NewRSSSource(rssCfg)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("FATAL: failure creating RSS source for %s, %v", rssCfg.URL, err)
		}
		sources = append(sources, rssSource)
	}

	// Publisher
	publisherCfg := publisher.Config{}
	if err := viper.UnmarshalKey("publisher", &publisherCfg); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("FATAL: failure reading 'publisher' configuration, %v", err)
	}
	sharkeyPublisher, err := publisher.New(publisherCfg)
	if err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("FATAL: failure creating publisher, %v", err)
	}

	// Dispatcher limits
	dispatcherCfg := processor.Config{}
	if err := viper.UnmarshalKey("dispatcher", &dispatcherCfg); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("FATAL: failure reading 'dispatcher' configuration, %v", err)
	}
	if err := dispatcherCfg.Validate(); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("FATAL: invalid 'dispatcher' configuration, %v", err)
	}

	limiter := ratelimit.New(db)
	dispatcher, err := processor.New(dispatcherCfg, sources, db, limiter, sharkeyPublisher, formatter.Render, logger, tracer)
	if err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("FATAL: failure creating dispatcher, %v", err)
	}
	return logger, dispatcher, cleanup, nil
}
