package index

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	denseVectorName   = "dense"
	lexicalVectorName = "lexical"

	payloadChunkID    = "chunk_id"
	payloadDocID      = "document_id"
	payloadChunkIndex = "chunk_index"
	payloadContent    = "content"
	payloadSpeaker    = "speaker"
	payloadDate       = "date"
	payloadCountry    = "country"
	payloadChamber    = "chamber"
	payloadTitle      = "title"
	payloadURL        = "url"
	payloadTokenCount = "token_count"

	dayFormat = "2006-01-02"

	// Upper bound on chunks scrolled for a single document fetch.
	maxDocumentChunks = 10000
	facetLimit        = 1000
)

// QdrantGateway implements Gateway against a Qdrant collection with a named
// dense vector and a named sparse lexical vector.
type QdrantGateway struct {
	client     *qdrant.Client
	collection string
	ensured    atomic.Bool

	mu       sync.Mutex
	docLocks map[string]*sync.Mutex
}

var _ Gateway = (*QdrantGateway)(nil)

// NewQdrantGateway connects to Qdrant over gRPC.
func NewQdrantGateway(host string, port int, collection string) (*QdrantGateway, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &QdrantGateway{
		client:     client,
		collection: collection,
		docLocks:   make(map[string]*sync.Mutex),
	}, nil
}

func (g *QdrantGateway) EnsureCollection(ctx context.Context, dim int) error {
	if g.ensured.Load() {
		return nil
	}
	exists, err := g.client.CollectionExists(ctx, g.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", g.collection, err)
	}
	if !exists {
		err = g.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: g.collection,
			VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
				denseVectorName: {
					Size:     uint64(dim),
					Distance: qdrant.Distance_Cosine,
				},
			}),
			SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
				lexicalVectorName: {
					Modifier: qdrant.Modifier_Idf.Enum(),
				},
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection %s: %w", g.collection, err)
		}
	}
	fieldTypes := map[string]qdrant.FieldType{
		payloadChunkID:    qdrant.FieldType_FieldTypeKeyword,
		payloadDocID:      qdrant.FieldType_FieldTypeKeyword,
		payloadCountry:    qdrant.FieldType_FieldTypeKeyword,
		payloadSpeaker:    qdrant.FieldType_FieldTypeKeyword,
		payloadChamber:    qdrant.FieldType_FieldTypeKeyword,
		payloadDate:       qdrant.FieldType_FieldTypeDatetime,
		payloadChunkIndex: qdrant.FieldType_FieldTypeInteger,
	}
	for field, fieldType := range fieldTypes {
		_, err = g.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: g.collection,
			FieldName:      field,
			FieldType:      fieldType.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to index payload field %s: %w", field, err)
		}
	}
	g.ensured.Store(true)
	return nil
}

func (g *QdrantGateway) LexicalSearch(ctx context.Context, query string, f Filters, k int) ([]Hit, error) {
	sv := EncodeSparse(query)
	if len(sv.Indices) == 0 {
		return nil, nil
	}
	filter, err := buildFilter(f)
	if err != nil {
		return nil, err
	}
	points, err := g.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: g.collection,
		Query:          qdrant.NewQuerySparse(sv.Indices, sv.Values),
		Using:          qdrant.PtrOf(lexicalVectorName),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	return hitsFromPoints(points), nil
}

func (g *QdrantGateway) VectorSearch(ctx context.Context, vector []float32, f Filters, k int) ([]Hit, error) {
	filter, err := buildFilter(f)
	if err != nil {
		return nil, err
	}
	points, err := g.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: g.collection,
		Query:          qdrant.NewQueryDense(vector),
		Using:          qdrant.PtrOf(denseVectorName),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return hitsFromPoints(points), nil
}

func (g *QdrantGateway) Upsert(ctx context.Context, records []Record) error {
	for _, docID := range docIDs(records) {
		lock := g.docLock(docID)
		lock.Lock()
		err := g.upsertDoc(ctx, docID, records)
		lock.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (g *QdrantGateway) DeleteByDoc(ctx context.Context, docID string) error {
	lock := g.docLock(docID)
	lock.Lock()
	defer lock.Unlock()
	return g.deleteDoc(ctx, docID)
}

func (g *QdrantGateway) ReplaceDocument(ctx context.Context, docID string, records []Record) error {
	lock := g.docLock(docID)
	lock.Lock()
	defer lock.Unlock()
	if err := g.deleteDoc(ctx, docID); err != nil {
		return err
	}
	return g.upsertDoc(ctx, docID, records)
}

func (g *QdrantGateway) upsertDoc(ctx context.Context, docID string, records []Record) error {
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, rec := range records {
		if rec.DocID != docID {
			continue
		}
		points = append(points, recordToPoint(rec))
	}
	if len(points) == 0 {
		return nil
	}
	_, err := g.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: g.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d chunks for document %s: %w", len(points), docID, err)
	}
	return nil
}

func (g *QdrantGateway) deleteDoc(ctx context.Context, docID string) error {
	_, err := g.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: g.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch(payloadDocID, docID),
					},
				},
			},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to delete chunks for document %s: %w", docID, err)
	}
	return nil
}

func (g *QdrantGateway) FetchDocument(ctx context.Context, docID string) (*FullDocument, error) {
	points, err := g.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: g.collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(payloadDocID, docID),
			},
		},
		Limit:       qdrant.PtrOf(uint32(maxDocumentChunks)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document %s: %w", docID, err)
	}
	if len(points) == 0 {
		return nil, ErrDocumentNotFound
	}
	chunks := make([]Hit, 0, len(points))
	for _, p := range points {
		chunks = append(chunks, hitFromPayload(p.Payload, 0))
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	first := chunks[0]
	return &FullDocument{
		DocID:   docID,
		Title:   first.Title,
		Date:    first.Date,
		Country: first.Country,
		Chamber: first.Chamber,
		URL:     first.URL,
		Chunks:  chunks,
	}, nil
}

func (g *QdrantGateway) Facets(ctx context.Context, field string, f Filters) (map[string]int, error) {
	filter, err := buildFilter(f)
	if err != nil {
		return nil, err
	}
	hits, err := g.client.Facet(ctx, &qdrant.FacetCounts{
		CollectionName: g.collection,
		Key:            field,
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(facetLimit)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to facet %s: %w", field, err)
	}
	counts := make(map[string]int, len(hits))
	for _, h := range hits {
		counts[h.Value.GetStringValue()] = int(h.Count)
	}
	return counts, nil
}

func (g *QdrantGateway) Count(ctx context.Context) (uint64, error) {
	count, err := g.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: g.collection,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

func (g *QdrantGateway) Healthy(ctx context.Context) error {
	if _, err := g.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant unreachable: %w", err)
	}
	return nil
}

func (g *QdrantGateway) Close() error {
	return g.client.Close()
}

func (g *QdrantGateway) docLock(docID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.docLocks[docID]
	if !ok {
		lock = &sync.Mutex{}
		g.docLocks[docID] = lock
	}
	return lock
}

func docIDs(records []Record) []string {
	seen := make(map[string]struct{}, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if _, ok := seen[rec.DocID]; ok {
			continue
		}
		seen[rec.DocID] = struct{}{}
		ids = append(ids, rec.DocID)
	}
	sort.Strings(ids)
	return ids
}

// pointID derives a stable UUID from the chunk id so repeat upserts of the
// same chunk overwrite in place.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("hansard://chunk/"+chunkID)).String()
}

func recordToPoint(rec Record) *qdrant.PointStruct {
	sv := EncodeSparse(rec.Text)
	vectors := map[string]*qdrant.Vector{
		lexicalVectorName: {
			Indices: &qdrant.SparseIndices{Data: sv.Indices},
			Data:    sv.Values,
		},
	}
	if len(rec.Vector) > 0 {
		vectors[denseVectorName] = &qdrant.Vector{Data: rec.Vector}
	}
	return &qdrant.PointStruct{
		Id: qdrant.NewIDUUID(pointID(rec.ChunkID)),
		Payload: map[string]*qdrant.Value{
			payloadChunkID:    qdrant.NewValueString(rec.ChunkID),
			payloadDocID:      qdrant.NewValueString(rec.DocID),
			payloadChunkIndex: qdrant.NewValueInt(int64(rec.ChunkIndex)),
			payloadContent:    qdrant.NewValueString(rec.Text),
			payloadSpeaker:    qdrant.NewValueString(rec.Speaker),
			payloadDate:       qdrant.NewValueString(rec.Date),
			payloadCountry:    qdrant.NewValueString(rec.Country),
			payloadChamber:    qdrant.NewValueString(rec.Chamber),
			payloadTitle:      qdrant.NewValueString(rec.Title),
			payloadURL:        qdrant.NewValueString(rec.URL),
			payloadTokenCount: qdrant.NewValueInt(int64(rec.TokenCount)),
		},
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vectors{
				Vectors: &qdrant.NamedVectors{Vectors: vectors},
			},
		},
	}
}

// buildFilter translates Filters into engine conditions. Unset fields add
// no condition.
func buildFilter(f Filters) (*qdrant.Filter, error) {
	var must []*qdrant.Condition
	if f.Country != "" {
		must = append(must, qdrant.NewMatch(payloadCountry, f.Country))
	}
	if f.Speaker != "" {
		must = append(must, qdrant.NewMatch(payloadSpeaker, f.Speaker))
	}
	if f.Chamber != "" {
		must = append(must, qdrant.NewMatch(payloadChamber, f.Chamber))
	}
	if f.DateFrom != "" || f.DateTo != "" {
		dtr := &qdrant.DatetimeRange{}
		if f.DateFrom != "" {
			from, err := time.Parse(dayFormat, f.DateFrom)
			if err != nil {
				return nil, fmt.Errorf("invalid date_from %q: %w", f.DateFrom, err)
			}
			dtr.Gte = timestamppb.New(from)
		}
		if f.DateTo != "" {
			to, err := time.Parse(dayFormat, f.DateTo)
			if err != nil {
				return nil, fmt.Errorf("invalid date_to %q: %w", f.DateTo, err)
			}
			// Inclusive of the whole end day.
			dtr.Lt = timestamppb.New(to.AddDate(0, 0, 1))
		}
		must = append(must, qdrant.NewDatetimeRange(payloadDate, dtr))
	}
	if len(must) == 0 {
		return nil, nil
	}
	return &qdrant.Filter{Must: must}, nil
}

func hitsFromPoints(points []*qdrant.ScoredPoint) []Hit {
	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, hitFromPayload(p.Payload, p.Score))
	}
	return hits
}

func hitFromPayload(payload map[string]*qdrant.Value, score float32) Hit {
	return Hit{
		ChunkID:    payload[payloadChunkID].GetStringValue(),
		DocID:      payload[payloadDocID].GetStringValue(),
		ChunkIndex: int(payload[payloadChunkIndex].GetIntegerValue()),
		Text:       payload[payloadContent].GetStringValue(),
		Speaker:    payload[payloadSpeaker].GetStringValue(),
		Date:       payload[payloadDate].GetStringValue(),
		Country:    payload[payloadCountry].GetStringValue(),
		Chamber:    payload[payloadChamber].GetStringValue(),
		Title:      payload[payloadTitle].GetStringValue(),
		URL:        payload[payloadURL].GetStringValue(),
		Score:      score,
	}
}
