package vectorstore

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/knoguchi/rag/internal/apperr"
	"github.com/knoguchi/rag/internal/chunk"
	"github.com/knoguchi/rag/internal/embedder"
	"github.com/knoguchi/rag/internal/reranker"
)

const (
	// collectionName is the single collection this service uses.
	collectionName = "documents"

	denseVectorName  = "dense"
	sparseVectorName = "sparse"

	payloadText       = "text"
	payloadSource     = "source"
	payloadDomain     = "domain"
	payloadTopic      = "topic"
	payloadChunkIndex = "chunk_index"
	payloadIngestedAt = "ingested_at"

	rerankTopK = 3
)

// QdrantStore implements Store using Qdrant's gRPC client.
type QdrantStore struct {
	client   *qdrant.Client
	reranker *reranker.Reranker
}

// NewQdrantStore creates a Qdrant-backed Store. url is "host:port"
// (e.g. "localhost:6334"). Connection failure surfaces as
// VECTOR_STORE_UNAVAILABLE.
func NewQdrantStore(ctx context.Context, url string, rr *reranker.Reranker) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		host = url
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindVectorStoreUnavail, "invalid qdrant url", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindVectorStoreUnavail, "failed to create qdrant client", err)
	}

	return &QdrantStore{client: client, reranker: rr}, nil
}

// Close closes the underlying Qdrant client connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// EnsureCollection creates the "documents" collection (dense 384-dim
// COSINE + sparse, INT8 scalar quantization at quantile 0.99) if it
// does not already exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, collectionName)
	if err != nil {
		return apperr.Wrap(apperr.KindVectorStoreUnavail, "checking collection existence", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collectionName,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     uint64(embedder.Dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {},
		}),
		QuantizationConfig: qdrant.NewQuantizationScalar(&qdrant.ScalarQuantization{
			Type:      qdrant.QuantizationType_Int8,
			Quantile:  qdrant.PtrOf(float32(0.99)),
			AlwaysRam: qdrant.PtrOf(true),
		}),
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return apperr.Wrap(apperr.KindVectorStoreUnavail, "failed to create collection", err)
	}
	return nil
}

// Query performs hybrid fusion retrieval (dense + sparse prefetch, RRF
// fusion) filtered by domain/topic when present.
func (s *QdrantStore) Query(ctx context.Context, vector embedder.HybridVector, limit int, filter FilterContext) ([]ScoredPoint, error) {
	prefetchLimit := uint64(limit)

	prefetch := []*qdrant.PrefetchQuery{
		{
			Query: qdrant.NewQueryDense(vector.Dense),
			Using: qdrant.PtrOf(denseVectorName),
			Limit: qdrant.PtrOf(prefetchLimit),
		},
	}
	if len(vector.Sparse.Indices) > 0 {
		prefetch = append(prefetch, &qdrant.PrefetchQuery{
			Query: qdrant.NewQuerySparse(vector.Sparse.Indices, vector.Sparse.Values),
			Using: qdrant.PtrOf(sparseVectorName),
			Limit: qdrant.PtrOf(prefetchLimit),
		})
	}

	req := &qdrant.QueryPoints{
		CollectionName: collectionName,
		Prefetch:       prefetch,
		Query:          qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if f := buildFilter(filter); f != nil {
		req.Filter = f
	}

	resp, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindVectorStoreUnavail, "hybrid query failed", err)
	}

	out := make([]ScoredPoint, 0, len(resp))
	for _, p := range resp {
		id, err := uuid.Parse(p.GetId().GetUuid())
		if err != nil {
			continue
		}
		out = append(out, ScoredPoint{
			Point: Point{
				ID:       id,
				Metadata: payloadToChunk(p.GetPayload()),
			},
			Score: p.GetScore(),
		})
	}
	return out, nil
}

// Retrieve returns only the points that exist; missing IDs are
// silently omitted.
func (s *QdrantStore) Retrieve(ctx context.Context, ids []uuid.UUID) ([]Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id.String())
	}

	resp, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collectionName,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindVectorStoreUnavail, "retrieve failed", err)
	}

	out := make([]Point, 0, len(resp))
	for _, p := range resp {
		id, err := uuid.Parse(p.GetId().GetUuid())
		if err != nil {
			continue
		}
		out = append(out, Point{
			ID:       id,
			Vector:   vectorsToHybrid(p.GetVectors()),
			Metadata: payloadToChunk(p.GetPayload()),
		})
	}
	return out, nil
}

// Insert upserts points in batches of 64; idempotent per ID.
func (s *QdrantStore) Insert(ctx context.Context, points []Point) error {
	const batchSize = 64
	for start := 0; start < len(points); start += batchSize {
		end := start + batchSize
		if end > len(points) {
			end = len(points)
		}
		if err := s.insertBatch(ctx, points[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *QdrantStore) insertBatch(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, len(points))
	for i, pt := range points {
		structs[i] = &qdrant.PointStruct{
			Id: qdrant.NewIDUUID(pt.ID.String()),
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vectors{
					Vectors: &qdrant.NamedVectors{
						Vectors: map[string]*qdrant.Vector{
							denseVectorName: {Data: pt.Vector.Dense},
							sparseVectorName: {
								Indices: &qdrant.SparseIndices{Data: pt.Vector.Sparse.Indices},
								Data:    pt.Vector.Sparse.Values,
							},
						},
					},
				},
			},
			Payload: chunkToPayload(pt.Metadata),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName,
		Points:         structs,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindVectorStoreWrite, "upsert failed", err)
	}
	return nil
}

// DeleteOld deletes all points where Metadata.Source == source and
// Metadata.IngestedAt < before.
func (s *QdrantStore) DeleteOld(ctx context.Context, source string, before int64) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch(payloadSource, source),
						qdrant.NewRange(payloadIngestedAt, &qdrant.Range{Lt: qdrant.PtrOf(float64(before))}),
					},
				},
			},
		},
	})
	if err != nil {
		return apperr.Wrap(apperr.KindVectorStoreWrite, "delete_old failed", err)
	}
	return nil
}

// Rerank delegates scoring to the configured reranker.Reranker,
// writing the resulting score back onto each candidate and returning
// the top 3 descending.
func (s *QdrantStore) Rerank(ctx context.Context, query string, candidates []ScoredPoint) ([]ScoredPoint, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if s.reranker == nil {
		return nil, apperr.New(apperr.KindInternal, "rerank called with no CrossEncoder configured")
	}

	byID := make(map[string]ScoredPoint, len(candidates))
	items := make([]reranker.Item, len(candidates))
	for i, c := range candidates {
		items[i] = reranker.Item{ID: c.ID.String(), Text: c.Metadata.Text}
		byID[c.ID.String()] = c
	}

	scored, err := s.reranker.Rerank(ctx, query, items, rerankTopK)
	if err != nil {
		return nil, err
	}

	out := make([]ScoredPoint, len(scored))
	for i, sc := range scored {
		point := byID[sc.ID]
		score := sc.Score
		point.RerankScore = &score
		out[i] = point
	}
	return out, nil
}

func buildFilter(filter FilterContext) *qdrant.Filter {
	var must []*qdrant.Condition
	if filter.Domain != "" {
		must = append(must, qdrant.NewMatch(payloadDomain, filter.Domain))
	}
	if filter.Topic != "" {
		must = append(must, qdrant.NewMatch(payloadTopic, filter.Topic))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func chunkToPayload(c chunk.Chunk) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		payloadText:       qdrant.NewValueString(c.Text),
		payloadSource:     qdrant.NewValueString(c.Source),
		payloadDomain:     qdrant.NewValueString(c.Domain),
		payloadTopic:      qdrant.NewValueString(c.Topic),
		payloadChunkIndex: qdrant.NewValueInt(int64(c.ChunkIndex)),
		payloadIngestedAt: qdrant.NewValueInt(c.IngestedAt),
	}
}

func payloadToChunk(payload map[string]*qdrant.Value) chunk.Chunk {
	c := chunk.Chunk{}
	if payload == nil {
		return c
	}
	if v, ok := payload[payloadText]; ok {
		c.Text = v.GetStringValue()
	}
	if v, ok := payload[payloadSource]; ok {
		c.Source = v.GetStringValue()
	}
	if v, ok := payload[payloadDomain]; ok {
		c.Domain = v.GetStringValue()
	}
	if v, ok := payload[payloadTopic]; ok {
		c.Topic = v.GetStringValue()
	}
	if v, ok := payload[payloadChunkIndex]; ok {
		c.ChunkIndex = int(v.GetIntegerValue())
	}
	if v, ok := payload[payloadIngestedAt]; ok {
		c.IngestedAt = v.GetIntegerValue()
	}
	return c
}

func vectorsToHybrid(vectors *qdrant.VectorsOutput) embedder.HybridVector {
	if vectors == nil {
		return embedder.HybridVector{}
	}
	named := vectors.GetVectors()
	if named == nil {
		return embedder.HybridVector{}
	}
	hv := embedder.HybridVector{}
	if dense, ok := named.GetVectors()[denseVectorName]; ok {
		hv.Dense = dense.GetData()
	}
	if sparse, ok := named.GetVectors()[sparseVectorName]; ok {
		hv.Sparse = embedder.SparseVector{
			Indices: sparse.GetIndices().GetData(),
			Values:  sparse.GetData(),
		}
	}
	return hv
}

var _ Store = (*QdrantStore)(nil)
