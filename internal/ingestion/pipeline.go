package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pacifichansard/rag/internal/repository"
)

// PipelineResult holds the result of processing a document
type PipelineResult struct {
	// ContentHash is the SHA-256 hash of the original content
	ContentHash string

	// Chunks contains all generated chunks
	Chunks []Chunk

	// Stats contains processing statistics
	Stats PipelineStats
}

// PipelineStats contains statistics about the pipeline execution
type PipelineStats struct {
	OriginalLength    int
	OriginalWordCount int
	ChunkCount        int
	TotalChunkWords   int
	AvgChunkWords     int
	ProcessingTime    time.Duration
}

// Pipeline orchestrates the chunking step of document ingestion
type Pipeline struct {
	chunker *Chunker
}

// NewPipeline creates a new ingestion pipeline
func NewPipeline(config ChunkerConfig) *Pipeline {
	return &Pipeline{chunker: NewChunker(config)}
}

// Process chunks a document and computes its content hash and statistics.
// Documents with empty content are rejected; whitespace-only handling below
// that is the chunker's concern.
func (p *Pipeline) Process(ctx context.Context, doc *repository.Document) (*PipelineResult, error) {
	startTime := time.Now()

	if strings.TrimSpace(doc.Content) == "" {
		return nil, fmt.Errorf("content cannot be empty")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	chunks := p.chunker.Chunk(doc)

	return &PipelineResult{
		ContentHash: HashText(doc.Content),
		Chunks:      chunks,
		Stats:       calculateStats(doc.Content, chunks, time.Since(startTime)),
	}, nil
}

// calculateStats computes statistics for the pipeline result
func calculateStats(content string, chunks []Chunk, processingTime time.Duration) PipelineStats {
	totalChunkWords := 0
	for _, chunk := range chunks {
		totalChunkWords += len(strings.Fields(chunk.Text))
	}

	avgChunkWords := 0
	if len(chunks) > 0 {
		avgChunkWords = totalChunkWords / len(chunks)
	}

	return PipelineStats{
		OriginalLength:    len(content),
		OriginalWordCount: len(strings.Fields(content)),
		ChunkCount:        len(chunks),
		TotalChunkWords:   totalChunkWords,
		AvgChunkWords:     avgChunkWords,
		ProcessingTime:    processingTime,
	}
}

// ValidateChunkerConfig validates a chunker configuration
func ValidateChunkerConfig(config ChunkerConfig) error {
	switch config.Strategy {
	case "", StrategyParagraph, StrategySpeaker:
	default:
		return fmt.Errorf("invalid chunking strategy: %s (valid: paragraph, speaker)", config.Strategy)
	}

	if config.MaxChars < 0 {
		return fmt.Errorf("max_chars cannot be negative")
	}
	if config.OverlapChars < 0 {
		return fmt.Errorf("overlap_chars cannot be negative")
	}
	if config.MaxChars > 0 && config.OverlapChars >= config.MaxChars {
		return fmt.Errorf("overlap_chars (%d) must be less than max_chars (%d)", config.OverlapChars, config.MaxChars)
	}
	if config.MinTopicSplitChars < 0 {
		return fmt.Errorf("min_topic_split_chars cannot be negative")
	}
	return nil
}
