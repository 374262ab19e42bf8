package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"github.com/DeafMist/insight-dashboard/internal/config"
	"github.com/DeafMist/insight-dashboard/internal/dedupe"
	"github.com/DeafMist/insight-dashboard/internal/elasticsearch"
	"github.com/DeafMist/insight-dashboard/internal/ingest"
	"github.com/DeafMist/insight-dashboard/internal/logger"
	"github.com/DeafMist/insight-dashboard/internal/models"
)

// maxSnapshotKeys bounds the duplicate tracker of a kafka import.
const maxSnapshotKeys = 1_000_000

type replacer interface {
	ReplaceAll(ctx context.Context, records []models.Record) (int, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type app struct {
	log *slog.Logger
	cfg *config.Importer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "importer",
		Short:         "Load insight records into the datapoints index",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.log = logger.New("importer").With("run_id", uuid.NewString())
			cfg, err := config.LoadImporter()
			if err != nil {
				a.log.Error("load config", slog.Any("err", err))
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	root.AddCommand(a.fileCmd(), a.kafkaCmd(), a.validateCmd())
	return root
}

func (a *app) fileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "file [path]",
		Short: "Replace the collection with the records of a JSON array file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.File
			if len(args) == 1 {
				path = args[0]
			}
			return a.withStore(cmd.Context(), func(ctx context.Context, store replacer) error {
				_, err := importFile(ctx, a.log, store, path)
				return err
			})
		},
	}
}

func (a *app) kafkaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kafka",
		Short: "Replace the collection with a snapshot drained from a Kafka topic",
		Args:  cobra.NoArgs,
	}
	idle := cmd.Flags().Duration("idle-timeout", 0, "stop after no message arrived for this long (default KAFKA_IDLE_TIMEOUT)")
	topic := cmd.Flags().String("topic", "", "snapshot topic (default KAFKA_TOPIC)")
	allowEmpty := cmd.Flags().Bool("allow-empty", false, "replace the collection even when the snapshot holds no records")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		if *idle > 0 {
			a.cfg.KafkaIdleTimeout = *idle
		}
		if *topic != "" {
			a.cfg.KafkaTopic = *topic
		}
		return a.withStore(cmd.Context(), func(ctx context.Context, store replacer) error {
			group := "insight-importer-" + uuid.NewString()
			reader := kafka.NewReader(kafka.ReaderConfig{
				Brokers:        a.cfg.KafkaBrokers,
				Topic:          a.cfg.KafkaTopic,
				GroupID:        group,
				StartOffset:    kafka.FirstOffset,
				MinBytes:       1,
				MaxBytes:       10e6,
				MaxWait:        a.cfg.KafkaMaxWait,
				CommitInterval: 0,
			})
			defer reader.Close()

			dlqWriter := kafka.NewWriter(kafka.WriterConfig{
				Brokers:     a.cfg.KafkaBrokers,
				Topic:       dlqTopic(a.cfg.KafkaTopic),
				MaxAttempts: 3,
			})
			defer dlqWriter.Close()

			log := a.log.With(slog.String("topic", a.cfg.KafkaTopic), slog.String("group", group))
			s := &snapshot{
				log:        log,
				reader:     reader,
				dlq:        dlqWriter,
				firstWait:  a.cfg.KafkaFirstFetchTimeout,
				idle:       a.cfg.KafkaIdleTimeout,
				allowEmpty: *allowEmpty,
				seen:       dedupe.NewSet(maxSnapshotKeys),
				backoff:    dlqBackoff,
			}
			_, err := s.run(ctx, store)
			return err
		})
	}
	return cmd
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Check that a file decodes as a JSON array of records without importing it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.File
			if len(args) == 1 {
				path = args[0]
			}
			n, err := validateFile(path)
			if err != nil {
				a.log.Error("validate file", slog.String("path", path), slog.Any("err", err))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records\n", path, n)
			return nil
		},
	}
}

// withStore opens the index client, waits for the cluster and runs fn under
// the import timeout.
func (a *app) withStore(ctx context.Context, fn func(context.Context, replacer) error) error {
	esClient, err := elasticsearch.New(a.cfg.ElasticsearchAddr, a.cfg.ElasticsearchIndex, a.log)
	if err != nil {
		a.log.Error("init elasticsearch", slog.Any("err", err))
		return err
	}
	defer esClient.Close()

	if err := esClient.WaitReady(ctx, a.cfg.StartupRetries, a.cfg.StartupRetryInterval); err != nil {
		a.log.Error("elasticsearch not ready", slog.Any("err", err))
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.ImportTimeout)
	defer cancel()

	if err := fn(ctx, esClient); err != nil {
		a.log.Error("import failed", slog.Any("err", err))
		return err
	}
	return nil
}

func importFile(ctx context.Context, log *slog.Logger, store replacer, path string) (int, error) {
	records, err := ingest.ReadFile(path)
	if err != nil {
		return 0, err
	}
	log.Info("records decoded", slog.String("path", path), slog.Int("records", len(records)))

	n, err := store.ReplaceAll(ctx, records)
	if err != nil {
		return n, fmt.Errorf("replace collection: %w", err)
	}
	log.Info("import completed", slog.String("path", path), slog.Int("indexed", n))
	return n, nil
}

func validateFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return ingest.DecodeArray(f, func(models.Record) error { return nil })
}
