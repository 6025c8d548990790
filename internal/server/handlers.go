package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pacifichansard/rag/internal/index"
	"github.com/pacifichansard/rag/internal/repository"
	"github.com/pacifichansard/rag/internal/retrieval"
	"github.com/pacifichansard/rag/internal/service"
)

const (
	minTopK = 1
	maxTopK = 50
)

type filtersDTO struct {
	Country  string `json:"country,omitempty"`
	Speaker  string `json:"speaker,omitempty"`
	Chamber  string `json:"chamber,omitempty"`
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
}

type searchRequest struct {
	Query   string     `json:"query"`
	Filters filtersDTO `json:"filters"`
	TopK    *int       `json:"top_k"`
}

type searchResultDTO struct {
	ChunkID    string  `json:"chunk_id"`
	DocID      string  `json:"doc_id"`
	Text       string  `json:"text"`
	Speaker    string  `json:"speaker"`
	Date       string  `json:"date"`
	Country    string  `json:"country"`
	Chamber    string  `json:"chamber"`
	URL        string  `json:"url,omitempty"`
	Score      float64 `json:"score"`
	ChunkIndex int     `json:"chunk_index"`
}

type searchResponse struct {
	Query          string            `json:"query"`
	Results        []searchResultDTO `json:"results"`
	TotalFound     int               `json:"total_found"`
	ResponseTimeMS int64             `json:"response_time_ms"`
	SearchType     string            `json:"search_type"`
}

type askRequest struct {
	Question    string     `json:"question"`
	Filters     filtersDTO `json:"filters"`
	TopK        *int       `json:"top_k"`
	Temperature *float64   `json:"temperature"`
}

type askResponse struct {
	Question       string                   `json:"question"`
	Answer         string                   `json:"answer"`
	Sources        []service.SourceCitation `json:"sources"`
	ResponseTimeMS int64                    `json:"response_time_ms"`
	ModelUsed      string                   `json:"model_used"`
	ChunksUsed     int                      `json:"chunks_used"`
}

type ingestRequest struct {
	Title        string `json:"title"`
	Date         string `json:"date"`
	Country      string `json:"country"`
	Chamber      string `json:"chamber"`
	SpeakerHint  string `json:"speaker_hint"`
	DocumentType string `json:"document_type"`
	URL          string `json:"url"`
	Content      string `json:"content"`
}

type listDocumentsResponse struct {
	Documents []service.DocumentSummary `json:"documents"`
	Total     int                       `json:"total"`
}

type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
	Version  string            `json:"version"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	services := map[string]string{"api": "available"}
	healthy := true

	if err := s.index.Healthy(ctx); err != nil {
		s.logger.Warn("index health check failed", "error", err)
		services["index"] = "unavailable"
		healthy = false
	} else {
		services["index"] = "available"
	}

	if err := s.generator.Healthy(ctx); err != nil {
		s.logger.Warn("generator health check failed", "error", err)
		services["generator"] = "unavailable"
		healthy = false
	} else {
		services["generator"] = "available"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{Status: status, Services: services, Version: s.version})
}

func (s *HTTPServer) handleSearchGet(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	query := strings.TrimSpace(params.Get("q"))
	if query == "" {
		s.writeError(w, r, &service.ValidationError{Field: "q", Message: "query parameter q is required"})
		return
	}

	filters, err := filtersFromDTO(filtersDTO{
		Country:  params.Get("country"),
		Speaker:  params.Get("speaker"),
		Chamber:  params.Get("chamber"),
		DateFrom: params.Get("date_from"),
		DateTo:   params.Get("date_to"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	topK, err := topKFromQuery(params.Get("top_k"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.runSearch(w, r, query, filters, topK)
}

func (s *HTTPServer) handleSearchPost(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		s.writeError(w, r, &service.ValidationError{Field: "query", Message: "query is required"})
		return
	}

	filters, err := filtersFromDTO(req.Filters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	topK, err := topKFromBody(req.TopK)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.runSearch(w, r, query, filters, topK)
}

func (s *HTTPServer) runSearch(w http.ResponseWriter, r *http.Request, query string, filters index.Filters, topK int) {
	page, err := s.rag.Search(r.Context(), service.SearchParams{
		Query:   query,
		Filters: filters,
		TopK:    topK,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Query:          query,
		Results:        toSearchResults(page.Results),
		TotalFound:     page.TotalFound,
		ResponseTimeMS: page.ResponseTimeMS,
		SearchType:     "hybrid",
	})
}

func (s *HTTPServer) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		s.writeError(w, r, &service.ValidationError{Field: "question", Message: "question is required"})
		return
	}

	filters, err := filtersFromDTO(req.Filters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	topK, err := topKFromBody(req.TopK)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 1) {
		s.writeError(w, r, &service.ValidationError{Field: "temperature", Message: "temperature must be between 0.0 and 1.0"})
		return
	}

	result, err := s.rag.Ask(r.Context(), service.AskParams{
		Question:    question,
		Filters:     filters,
		TopK:        topK,
		Temperature: req.Temperature,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Question:       question,
		Answer:         result.Answer,
		Sources:        result.Sources,
		ResponseTimeMS: result.ResponseTimeMS,
		ModelUsed:      result.ModelUsed,
		ChunksUsed:     result.ChunksUsed,
	})
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")

	view, err := s.documents.GetDocument(r.Context(), docID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")

	if err := s.documents.DeleteDocument(r.Context(), docID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.documents.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	receipt, err := s.documents.Ingest(r.Context(), service.IngestRequest{
		Title:        req.Title,
		Date:         req.Date,
		Country:      req.Country,
		Chamber:      req.Chamber,
		SpeakerHint:  req.SpeakerHint,
		DocumentType: req.DocumentType,
		URL:          req.URL,
		Content:      req.Content,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	code := http.StatusAccepted
	if receipt.Duplicate {
		code = http.StatusOK
	}
	writeJSON(w, code, receipt)
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	limit, err := intParam(params.Get("limit"), "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := intParam(params.Get("offset"), "offset")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	docs, total, err := s.documents.ListDocuments(r.Context(), params.Get("country"), params.Get("status"), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if docs == nil {
		docs = []service.DocumentSummary{}
	}
	writeJSON(w, http.StatusOK, listDocumentsResponse{Documents: docs, Total: total})
}

// writeError maps service errors to boundary status codes. Unrecognized
// errors become a 500 carrying the request id, never the error text.
func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Field: verr.Field})
	case errors.Is(err, service.ErrBusy):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "document not found"})
	default:
		requestID := middleware.GetReqID(r.Context())
		s.logger.Error("request failed", "error", err, "path", r.URL.Path, "request_id", requestID)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", RequestID: requestID})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &service.ValidationError{Field: "body", Message: "request body must be valid JSON"}
	}
	return nil
}

func filtersFromDTO(f filtersDTO) (index.Filters, error) {
	if err := validateDay(f.DateFrom, "date_from"); err != nil {
		return index.Filters{}, err
	}
	if err := validateDay(f.DateTo, "date_to"); err != nil {
		return index.Filters{}, err
	}
	return index.Filters{
		Country:  f.Country,
		Speaker:  f.Speaker,
		Chamber:  f.Chamber,
		DateFrom: f.DateFrom,
		DateTo:   f.DateTo,
	}, nil
}

func validateDay(value, field string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", value); err != nil {
		return &service.ValidationError{Field: field, Message: "must be an ISO-8601 day (YYYY-MM-DD)"}
	}
	return nil
}

// topKFromQuery parses the top_k query parameter; empty means "use the
// configured default" and is reported as zero.
func topKFromQuery(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &service.ValidationError{Field: "top_k", Message: "top_k must be an integer"}
	}
	return checkTopK(v)
}

func topKFromBody(v *int) (int, error) {
	if v == nil {
		return 0, nil
	}
	return checkTopK(*v)
}

func checkTopK(v int) (int, error) {
	if v < minTopK || v > maxTopK {
		return 0, &service.ValidationError{Field: "top_k", Message: "top_k must be between 1 and 50"}
	}
	return v, nil
}

func intParam(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, &service.ValidationError{Field: field, Message: field + " must be a non-negative integer"}
	}
	return v, nil
}

func toSearchResults(results []retrieval.Result) []searchResultDTO {
	out := make([]searchResultDTO, 0, len(results))
	for _, r := range results {
		out = append(out, searchResultDTO{
			ChunkID:    r.ChunkID,
			DocID:      r.DocID,
			Text:       r.Text,
			Speaker:    r.Speaker,
			Date:       r.Date,
			Country:    r.Country,
			Chamber:    r.Chamber,
			URL:        r.URL,
			Score:      r.Score,
			ChunkIndex: r.ChunkIndex,
		})
	}
	return out
}
