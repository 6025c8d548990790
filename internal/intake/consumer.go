// Package intake consumes scraped Hansard documents from Kafka and feeds
// them to the document service.
//
// # Trade-offs
//
//   - Offsets are committed only after the document is indexed (or its
//     failure is recorded on the document row), so a crash mid-ingest
//     redelivers rather than drops.
//   - Malformed and invalid records are logged and skipped; retrying them
//     would wedge the partition on a record that can never succeed.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/pacifichansard/rag/internal/service"
)

// Ingestor is the document service surface the consumer drives.
type Ingestor interface {
	IngestSync(ctx context.Context, req service.IngestRequest) (*service.IngestReceipt, error)
}

var _ Ingestor = (*service.DocumentService)(nil)

// Config holds the Kafka connection settings.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
	Logger  *slog.Logger
}

// Consumer reads scraped documents from a Kafka topic.
type Consumer struct {
	reader *kafka.Reader
	docs   Ingestor
	logger *slog.Logger
}

// NewConsumer creates a consumer-group reader for the intake topic.
func NewConsumer(cfg Config, docs Ingestor) *Consumer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	})
	return &Consumer{reader: reader, docs: docs, logger: logger}
}

// Run fetches and ingests records until ctx is cancelled or the reader is
// closed. It returns nil on clean shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("intake consumer started",
		"topic", c.reader.Config().Topic,
		"group", c.reader.Config().GroupID)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				c.logger.Info("intake consumer stopped")
				return nil
			}
			return fmt.Errorf("fetch intake message: %w", err)
		}

		if !c.handleValue(ctx, msg.Value) {
			// Leave the offset uncommitted so a restart redelivers.
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("offset commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

// Close shuts the underlying reader down, unblocking Run.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// handleValue ingests one record and reports whether its offset may be
// committed. Only failures that left no trace in the repository hold the
// offset back.
func (c *Consumer) handleValue(ctx context.Context, value []byte) bool {
	req, err := decodeRecord(value)
	if err != nil {
		c.logger.Warn("malformed intake record, skipping", "error", err)
		return true
	}

	receipt, err := c.docs.IngestSync(ctx, req)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			c.logger.Warn("invalid intake record, skipping", "field", verr.Field, "error", err)
			return true
		}
		if receipt == nil {
			c.logger.Error("intake ingest failed before the document was recorded", "error", err)
			return false
		}
		c.logger.Error("intake document failed processing", "doc_id", receipt.DocID, "error", err)
		return true
	}

	if receipt.Duplicate {
		c.logger.Info("intake record already ingested", "doc_id", receipt.DocID)
	} else {
		c.logger.Info("intake record ingested", "doc_id", receipt.DocID, "status", receipt.Status)
	}
	return true
}

// record is the wire format the scrapers publish.
type record struct {
	Content  string         `json:"content"`
	Metadata recordMetadata `json:"metadata"`
}

type recordMetadata struct {
	Title        string `json:"title"`
	Date         string `json:"date"`
	Country      string `json:"country"`
	Chamber      string `json:"chamber"`
	SpeakerHint  string `json:"speaker_hint"`
	DocumentType string `json:"document_type"`
	URL          string `json:"url"`
}

func decodeRecord(value []byte) (service.IngestRequest, error) {
	var rec record
	if err := json.Unmarshal(value, &rec); err != nil {
		return service.IngestRequest{}, fmt.Errorf("decode record: %w", err)
	}
	if strings.TrimSpace(rec.Content) == "" {
		return service.IngestRequest{}, errors.New("decode record: empty content")
	}
	return service.IngestRequest{
		Title:        rec.Metadata.Title,
		Date:         rec.Metadata.Date,
		Country:      rec.Metadata.Country,
		Chamber:      rec.Metadata.Chamber,
		SpeakerHint:  rec.Metadata.SpeakerHint,
		DocumentType: rec.Metadata.DocumentType,
		URL:          rec.Metadata.URL,
		Content:      rec.Content,
	}, nil
}
