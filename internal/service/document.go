package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pacifichansard/rag/internal/cache"
	"github.com/pacifichansard/rag/internal/embedder"
	"github.com/pacifichansard/rag/internal/index"
	"github.com/pacifichansard/rag/internal/ingestion"
	"github.com/pacifichansard/rag/internal/repository"
)

const statsCacheKey = "stats:global"

// ValidationError reports a malformed request field. The HTTP layer renders
// it as a 400 with the offending field named.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IngestRequest is a transcript submitted for indexing.
type IngestRequest struct {
	Title        string
	Date         string // ISO-8601 day
	Country      string
	Chamber      string
	SpeakerHint  string
	DocumentType string
	URL          string
	Content      string
}

// IngestReceipt acknowledges an accepted document.
type IngestReceipt struct {
	DocID     string `json:"doc_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// DocumentView is a document reassembled from its indexed chunks.
type DocumentView struct {
	DocID            string           `json:"doc_id"`
	Content          string           `json:"content"`
	FormattedContent string           `json:"formatted_content"`
	Metadata         DocumentMetadata `json:"metadata"`
	ChunkCount       int              `json:"chunk_count"`
	TotalLength      int              `json:"total_length"`
}

// DocumentMetadata is the document-level metadata carried on every chunk.
type DocumentMetadata struct {
	Title   string `json:"title"`
	Date    string `json:"date"`
	Country string `json:"country"`
	Chamber string `json:"chamber"`
	URL     string `json:"url,omitempty"`
}

// DocumentSummary is one row of a document listing.
type DocumentSummary struct {
	DocID      string `json:"doc_id"`
	Title      string `json:"title"`
	Date       string `json:"date"`
	Country    string `json:"country"`
	Chamber    string `json:"chamber"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
}

// Stats summarizes the corpus for the stats endpoint.
type Stats struct {
	TotalDocuments int            `json:"total_documents"`
	Countries      map[string]int `json:"countries"`
	IndexStatus    string         `json:"index_status"`
}

// DocumentService runs the ingest pipeline and serves document reads.
type DocumentService struct {
	repo     repository.DocumentRepository
	pipeline *ingestion.Pipeline
	embedder embedder.Embedder
	gateway  index.Gateway
	logger   *slog.Logger

	stats    cache.Cache
	statsTTL time.Duration
}

// DocumentOption configures a DocumentService.
type DocumentOption func(*DocumentService)

// WithDocumentLogger sets the service logger.
func WithDocumentLogger(logger *slog.Logger) DocumentOption {
	return func(s *DocumentService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStatsCache caches stats responses for ttl.
func WithStatsCache(c cache.Cache, ttl time.Duration) DocumentOption {
	return func(s *DocumentService) {
		if c != nil && ttl > 0 {
			s.stats = c
			s.statsTTL = ttl
		}
	}
}

// NewDocumentService creates the ingest and document-read service.
func NewDocumentService(repo repository.DocumentRepository, pipeline *ingestion.Pipeline, emb embedder.Embedder, gateway index.Gateway, opts ...DocumentOption) *DocumentService {
	s := &DocumentService{
		repo:     repo,
		pipeline: pipeline,
		embedder: emb,
		gateway:  gateway,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest accepts a document and processes it in the background. Re-posting
// byte-identical content returns the existing document instead of creating
// a duplicate.
func (s *DocumentService) Ingest(ctx context.Context, req IngestRequest) (*IngestReceipt, error) {
	doc, receipt, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if receipt != nil {
		return receipt, nil
	}

	// Detached context: processing must outlive the HTTP request.
	go func() {
		if err := s.process(context.Background(), doc); err != nil {
			s.logger.Error("document processing failed", "doc_id", doc.ID, "error", err)
		}
	}()

	return &IngestReceipt{DocID: doc.ID.String(), Status: doc.Status}, nil
}

// IngestSync ingests a document and blocks until it is ready or failed.
// The intake consumer uses it so offsets are committed only after the
// document is actually indexed.
func (s *DocumentService) IngestSync(ctx context.Context, req IngestRequest) (*IngestReceipt, error) {
	doc, receipt, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if receipt != nil {
		return receipt, nil
	}

	if err := s.process(ctx, doc); err != nil {
		return &IngestReceipt{DocID: doc.ID.String(), Status: doc.Status}, err
	}
	return &IngestReceipt{DocID: doc.ID.String(), Status: doc.Status}, nil
}

// prepare validates the request, deduplicates by content hash, and creates
// the pending document row. A non-nil receipt means a duplicate was found
// and nothing was created.
func (s *DocumentService) prepare(ctx context.Context, req IngestRequest) (*repository.Document, *IngestReceipt, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, nil, &ValidationError{Field: "content", Message: "content is required"}
	}
	if req.Date != "" {
		if _, err := time.Parse("2006-01-02", req.Date); err != nil {
			return nil, nil, &ValidationError{Field: "date", Message: "date must be an ISO-8601 day (YYYY-MM-DD)"}
		}
	}

	contentHash := ingestion.HashText(req.Content)

	existing, err := s.repo.GetByHash(ctx, contentHash)
	if err == nil {
		s.logger.Info("duplicate content, returning existing document",
			"doc_id", existing.ID, "hash", contentHash[:12])
		return nil, &IngestReceipt{DocID: existing.ID.String(), Status: existing.Status, Duplicate: true}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("dedupe lookup: %w", err)
	}

	now := time.Now()
	doc := &repository.Document{
		ID:           uuid.New(),
		Title:        req.Title,
		Date:         req.Date,
		Country:      req.Country,
		Chamber:      req.Chamber,
		SpeakerHint:  req.SpeakerHint,
		DocumentType: req.DocumentType,
		URL:          req.URL,
		Content:      req.Content,
		ContentHash:  contentHash,
		Status:       repository.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if doc.Title == "" {
		doc.Title = "Untitled Hansard"
	}

	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, nil, fmt.Errorf("create document: %w", err)
	}
	return doc, nil, nil
}

// process chunks, embeds, and indexes a document, updating its status as it
// goes. An embedding failure downgrades the document to lexical-only rather
// than failing it; vectors are backfilled on the next re-ingest.
func (s *DocumentService) process(ctx context.Context, doc *repository.Document) error {
	doc.Status = repository.StatusProcessing
	doc.UpdatedAt = time.Now()
	_ = s.repo.Update(ctx, doc)

	result, err := s.pipeline.Process(ctx, doc)
	if err != nil {
		return s.fail(ctx, doc, fmt.Errorf("chunking failed: %w", err))
	}

	records := recordsFromChunks(result.Chunks)

	texts := make([]string, len(result.Chunks))
	for i, chunk := range result.Chunks {
		texts[i] = chunk.Text
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		s.logger.Warn("embedding failed, indexing lexical-only",
			"doc_id", doc.ID, "error", err)
	} else if len(vectors) == len(records) {
		for i := range records {
			records[i].Vector = vectors[i]
		}
	}

	if err := s.gateway.ReplaceDocument(ctx, doc.ID.String(), records); err != nil {
		return s.fail(ctx, doc, fmt.Errorf("index write failed: %w", err))
	}

	doc.Status = repository.StatusReady
	doc.ChunkCount = len(records)
	doc.ErrorMessage = ""
	doc.UpdatedAt = time.Now()
	_ = s.repo.Update(ctx, doc)

	s.invalidateStats(ctx)
	s.logger.Info("document indexed", "doc_id", doc.ID, "chunks", len(records))
	return nil
}

func (s *DocumentService) fail(ctx context.Context, doc *repository.Document, cause error) error {
	doc.Status = repository.StatusFailed
	doc.ErrorMessage = cause.Error()
	doc.UpdatedAt = time.Now()
	_ = s.repo.Update(ctx, doc)
	return cause
}

// GetDocument reassembles a document from its indexed chunks.
func (s *DocumentService) GetDocument(ctx context.Context, docID string) (*DocumentView, error) {
	full, err := s.gateway.FetchDocument(ctx, docID)
	if err != nil {
		if errors.Is(err, index.ErrDocumentNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("fetch document: %w", err)
	}

	var content strings.Builder
	for i, chunk := range full.Chunks {
		if i > 0 {
			content.WriteString("\n\n")
		}
		content.WriteString(chunk.Text)
	}

	text := content.String()
	return &DocumentView{
		DocID:            full.DocID,
		Content:          text,
		FormattedContent: formatTranscript(full.Chunks),
		Metadata: DocumentMetadata{
			Title:   full.Title,
			Date:    full.Date,
			Country: full.Country,
			Chamber: full.Chamber,
			URL:     full.URL,
		},
		ChunkCount:  len(full.Chunks),
		TotalLength: len(text),
	}, nil
}

// ListDocuments lists document rows, optionally filtered by country and
// status. limit is clamped to 1..100.
func (s *DocumentService) ListDocuments(ctx context.Context, country, status string, limit, offset int) ([]DocumentSummary, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	docs, total, err := s.repo.List(ctx, country, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}

	summaries := make([]DocumentSummary, len(docs))
	for i, doc := range docs {
		summaries[i] = DocumentSummary{
			DocID:      doc.ID.String(),
			Title:      doc.Title,
			Date:       doc.Date,
			Country:    doc.Country,
			Chamber:    doc.Chamber,
			Status:     doc.Status,
			ChunkCount: doc.ChunkCount,
			Error:      doc.ErrorMessage,
		}
	}
	return summaries, total, nil
}

// DeleteDocument removes a document's chunks from the index and then its
// repository row.
func (s *DocumentService) DeleteDocument(ctx context.Context, docID string) error {
	id, err := uuid.Parse(docID)
	if err != nil {
		return &ValidationError{Field: "doc_id", Message: "doc_id must be a UUID"}
	}

	if _, err := s.repo.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("get document: %w", err)
	}

	// Chunks first: a failure here leaves the row present so the delete can
	// be retried instead of orphaning index entries.
	if err := s.gateway.DeleteByDoc(ctx, docID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	s.invalidateStats(ctx)
	return nil
}

// Stats reports corpus totals. Facet failures degrade the response instead
// of failing it; only a repository failure is an error.
func (s *DocumentService) Stats(ctx context.Context) (*Stats, error) {
	if cached, ok := s.cachedStats(ctx); ok {
		return cached, nil
	}

	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	stats := &Stats{
		TotalDocuments: total,
		Countries:      map[string]int{},
		IndexStatus:    "available",
	}

	counts, err := s.gateway.Facets(ctx, "country", index.Filters{})
	if err != nil {
		s.logger.Warn("country facets unavailable", "error", err)
		stats.IndexStatus = "unavailable"
	} else {
		stats.Countries = counts
	}

	s.storeStats(ctx, stats)
	return stats, nil
}

func (s *DocumentService) cachedStats(ctx context.Context) (*Stats, bool) {
	if s.stats == nil {
		return nil, false
	}
	raw, ok, err := s.stats.Get(ctx, statsCacheKey)
	if err != nil || !ok {
		return nil, false
	}
	var stats Stats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, false
	}
	return &stats, true
}

func (s *DocumentService) storeStats(ctx context.Context, stats *Stats) {
	if s.stats == nil {
		return
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := s.stats.Set(ctx, statsCacheKey, raw, s.statsTTL); err != nil {
		s.logger.Warn("stats cache write failed", "error", err)
	}
}

func (s *DocumentService) invalidateStats(ctx context.Context) {
	if s.stats == nil {
		return
	}
	_ = s.stats.Delete(ctx, statsCacheKey)
}

// recordsFromChunks converts pipeline chunks to index records. Vectors are
// attached afterwards when embedding succeeded.
func recordsFromChunks(chunks []ingestion.Chunk) []index.Record {
	records := make([]index.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = index.Record{
			ChunkID:    chunk.ChunkID,
			DocID:      chunk.DocID,
			ChunkIndex: chunk.ChunkIndex,
			Text:       chunk.Text,
			Speaker:    chunk.Speaker,
			Date:       chunk.Date,
			Country:    chunk.Country,
			Chamber:    chunk.Chamber,
			Title:      chunk.Title,
			URL:        chunk.URL,
			TokenCount: chunk.TokenEstimate,
		}
	}
	return records
}

// formatTranscript renders chunks with a speaker heading whenever the
// speaker changes, approximating the original transcript layout.
func formatTranscript(chunks []index.Hit) string {
	var sb strings.Builder
	previous := ""
	for _, chunk := range chunks {
		if chunk.Speaker != "" && chunk.Speaker != previous {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(chunk.Speaker)
			sb.WriteString(":\n")
			previous = chunk.Speaker
		}
		sb.WriteString(chunk.Text)
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
