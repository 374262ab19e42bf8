package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/insight-dashboard/internal/dedupe"
	"github.com/DeafMist/insight-dashboard/internal/ingest"
	"github.com/DeafMist/insight-dashboard/internal/models"
)

const dlqAttempts = 5

var dlqBackoff = time.Second

// errEmptySnapshot stops a run that would leave the collection empty.
var errEmptySnapshot = errors.New("snapshot holds no records")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func dlqTopic(topic string) string {
	return topic + "_dlq"
}

// snapshotResult counts what one drain saw.
type snapshotResult struct {
	Messages   int
	Records    int
	Duplicates int
	Rejected   int
	Indexed    int
}

// snapshot drains a topic into memory and replaces the collection with it.
// firstWait bounds the wait for the first message, idle every later one.
type snapshot struct {
	log        *slog.Logger
	reader     messageReader
	dlq        messageWriter
	firstWait  time.Duration
	idle       time.Duration
	allowEmpty bool
	seen       *dedupe.Set
	backoff    time.Duration
}

func (s *snapshot) run(ctx context.Context, store replacer) (snapshotResult, error) {
	records, consumed, res, err := s.drain(ctx)
	if err != nil {
		return res, err
	}
	s.log.Info("snapshot drained",
		slog.Int("messages", res.Messages),
		slog.Int("records", res.Records),
		slog.Int("duplicates", res.Duplicates),
		slog.Int("rejected", res.Rejected),
		slog.Int("tracked_keys", s.seen.Len()),
	)

	if len(records) == 0 && !s.allowEmpty {
		if res.Messages == 0 {
			return res, fmt.Errorf("%w: no message arrived within %s, collection left untouched", errEmptySnapshot, s.firstWait)
		}
		return res, fmt.Errorf("%w: all %d messages were rejected or duplicates, collection left untouched", errEmptySnapshot, res.Messages)
	}

	n, err := store.ReplaceAll(ctx, records)
	res.Indexed = n
	if err != nil {
		return res, fmt.Errorf("replace collection: %w", err)
	}

	// Offsets are only recorded once the collection reflects the snapshot.
	if len(consumed) > 0 {
		if err := s.reader.CommitMessages(ctx, consumed...); err != nil {
			s.log.Warn("commit offsets", slog.Any("err", err))
		}
	}
	s.log.Info("import completed", slog.Int("indexed", n))
	return res, nil
}

// drain reads until no message arrives for the idle timeout. Until the first
// message arrives the longer firstWait applies, which covers the consumer
// group join.
func (s *snapshot) drain(ctx context.Context) ([]models.Record, []kafka.Message, snapshotResult, error) {
	var (
		res      snapshotResult
		records  []models.Record
		consumed []kafka.Message
	)
	for {
		wait := s.idle
		if res.Messages == 0 && s.firstWait > wait {
			wait = s.firstWait
		}
		fetchCtx, cancel := context.WithTimeout(ctx, wait)
		msg, err := s.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, res, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return records, consumed, res, nil
			}
			return nil, nil, res, fmt.Errorf("fetch message: %w", err)
		}
		res.Messages++
		consumed = append(consumed, msg)

		rec, err := ingest.DecodeRecord(msg.Value)
		if err != nil {
			res.Rejected++
			s.log.Warn("malformed record, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)
			if err := s.sendToDLQ(ctx, msg, err); err != nil {
				return nil, nil, res, err
			}
			continue
		}

		// Keyless messages only collapse when the same offset is redelivered.
		key := string(msg.Key)
		if key == "" {
			key = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
		}
		if !s.seen.Add(key) {
			res.Duplicates++
			s.log.Debug("duplicate record", slog.String("key", key), slog.Int64("offset", msg.Offset))
			continue
		}
		records = append(records, rec)
		res.Records++
	}
}

func (s *snapshot) sendToDLQ(ctx context.Context, msg kafka.Message, cause error) error {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(append([]kafka.Header{}, msg.Headers...),
			kafka.Header{Key: "original_topic", Value: []byte(msg.Topic)},
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	for attempt := range dlqAttempts {
		dlqErr := s.dlq.WriteMessages(ctx, dlqMsg)
		if dlqErr == nil {
			s.log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return nil
		}

		backoff := time.Duration(1<<uint(attempt)) * s.backoff
		s.log.Warn("DLQ write failed, retrying",
			slog.Any("err", dlqErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("DLQ write exhausted retries for partition %d offset %d", msg.Partition, msg.Offset)
}
