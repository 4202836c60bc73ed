// Package semantic owns all Qdrant operations: collection lifecycle,
// catalog upserts, and similarity search over vulnerability records.
package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/VulnRadar/vulnradar/engine/domain"
	"github.com/VulnRadar/vulnradar/pkg/fn"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// searchRetryWait is the pause before the single retry of a failed search.
const searchRetryWait = 200 * time.Millisecond

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dims        int
	connected   atomic.Bool
	logger      *slog.Logger
}

// New creates a VectorStore dialing Qdrant at the given gRPC address.
// The session is not usable for search until Connect succeeds.
func New(addr, collection string, dims int, logger *slog.Logger) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dims:        dims,
		logger:      logger,
	}, nil
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	v.connected.Store(false)
	return v.conn.Close()
}

// Connect verifies the collection exists, is queryable, and matches the
// configured dimension. Search refuses to run before Connect succeeds.
func (v *VectorStore) Connect(ctx context.Context) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	found := false
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("semantic: collection %q: %w", v.collection, domain.ErrCollectionNotFound)
	}

	info, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: v.collection})
	if err != nil {
		return fmt.Errorf("semantic: collection info %q: %w", v.collection, err)
	}
	if info.GetResult().GetStatus() == pb.CollectionStatus_Red {
		return fmt.Errorf("semantic: collection %q is not queryable (status red)", v.collection)
	}
	if size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize(); size != 0 && int(size) != v.dims {
		return fmt.Errorf("semantic: collection %q has dimension %d, client configured for %d: %w",
			v.collection, size, v.dims, domain.ErrDimensionMismatch)
	}

	v.connected.Store(true)
	return nil
}

// EnsureCollection creates the collection with cosine distance if it
// doesn't exist, then verifies it via Connect.
func (v *VectorStore) EnsureCollection(ctx context.Context) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	exists := false
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			exists = true
			break
		}
	}
	if !exists {
		_, err = v.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: v.collection,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     uint64(v.dims),
						Distance: pb.Distance_Cosine,
					},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
		}
	}
	return v.Connect(ctx)
}

// Upsert stores catalog records. All embeddings must match the
// configured dimension.
func (v *VectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		if len(r.Embedding) != v.dims {
			return fmt.Errorf("semantic: record %s has %d dims, want %d: %w",
				r.ID, len(r.Embedding), v.dims, domain.ErrDimensionMismatch)
		}
		payload := make(map[string]*pb.Value, len(r.Payload))
		for k, val := range r.Payload {
			switch tv := val.(type) {
			case string:
				payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
			case int:
				payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
			case int64:
				payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
			case float64:
				payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
			case bool:
				payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
			default:
				payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
			}
		}

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Search performs k-NN similarity search and returns candidate matches
// sorted by score descending, ties broken by source ID ascending. Hits
// scoring below the threshold are dropped. A failed call is retried
// once with the same parameters before surfacing ErrSearchFailed.
func (v *VectorStore) Search(ctx context.Context, vector []float32, p SearchParams) ([]domain.CandidateMatch, error) {
	if !v.connected.Load() {
		return nil, fmt.Errorf("semantic: search before connect: %w", domain.ErrNotConnected)
	}
	if len(vector) != v.dims {
		return nil, fmt.Errorf("semantic: query vector has %d dims, collection wants %d: %w",
			len(vector), v.dims, domain.ErrDimensionMismatch)
	}

	// source_id and content are always attached; OutputFields adds the
	// caller's allow-listed extras.
	include := append([]string{"source_id", "content"}, p.OutputFields...)
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          p.Limit,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Include{
				Include: &pb.PayloadIncludeSelector{Fields: include},
			},
		},
	}

	res := fn.Retry(ctx, fn.RetryOpts{MaxAttempts: 2, InitialWait: searchRetryWait, MaxWait: searchRetryWait, RetryIf: retryableSearch},
		func(ctx context.Context) fn.Result[*pb.SearchResponse] {
			return fn.FromPair(v.points.Search(ctx, req))
		})
	resp, err := res.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("semantic: %v: %w", err, domain.ErrSearchFailed)
	}

	matches := make([]domain.CandidateMatch, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		if r.GetScore() < p.Threshold {
			continue
		}
		m := domain.CandidateMatch{
			SourceID: r.GetId().GetUuid(),
			Score:    r.GetScore(),
		}
		if len(p.OutputFields) > 0 {
			m.Fields = make(map[string]string, len(p.OutputFields))
		}
		requested := make(map[string]bool, len(p.OutputFields))
		for _, f := range p.OutputFields {
			requested[f] = true
		}
		for k, val := range r.GetPayload() {
			switch {
			case k == "content":
				m.Content = val.GetStringValue()
			case k == "source_id":
				m.SourceID = val.GetStringValue()
			case requested[k]:
				m.Fields[k] = valueString(val)
			}
		}
		matches = append(matches, m)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].SourceID < matches[j].SourceID
	})
	return matches, nil
}

// retryableSearch reports whether a failed search deserves the single
// retry: transport-level and timeout failures, never permanent gRPC
// rejections like InvalidArgument.
func retryableSearch(err error) bool {
	s, ok := status.FromError(err)
	if !ok {
		// Not a gRPC status: a raw transport failure.
		return true
	}
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// valueString renders a payload value as a string for the Fields map.
func valueString(v *pb.Value) string {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return strconv.FormatInt(k.IntegerValue, 10)
	case *pb.Value_DoubleValue:
		return strconv.FormatFloat(k.DoubleValue, 'g', -1, 64)
	case *pb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	default:
		return v.String()
	}
}
