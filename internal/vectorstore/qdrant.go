package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// textKey is the payload field holding the fragment text. Every other
// payload field is treated as fragment metadata.
const textKey = "text"

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Client wraps gRPC connections to Qdrant's collections and points services.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// Hit is a single nearest-neighbor result. Distance is 1 - cosine score,
// so smaller means closer and ascending order ranks best-first.
type Hit struct {
	ID       string
	Text     string
	Metadata map[string]string
	Distance float64
}

// NewClient dials the Qdrant gRPC endpoint and returns a ready Client.
func NewClient(cfg QdrantConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// EnsureCollection creates the named collection if it does not already exist.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// CollectionDimension returns the configured vector size of a collection,
// or 0 when the collection does not exist.
func (c *Client) CollectionDimension(ctx context.Context, name string) (uint64, error) {
	info, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		return 0, nil
	}
	params := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return 0, fmt.Errorf("collection %s: unexpected vectors config", name)
	}
	return params.Size, nil
}

// Upsert inserts or updates a single fragment in the given collection.
func (c *Client) Upsert(ctx context.Context, collection, id string, vector []float32, text string, metadata map[string]string) error {
	payload := map[string]*pb.Value{
		textKey: {Kind: &pb.Value_StringValue{StringValue: text}},
	}
	for k, v := range metadata {
		if k == textKey {
			continue
		}
		payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
				Payload: payload,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", collection, err)
	}
	return nil
}

// Search performs a nearest-neighbor search and returns the top-K hits
// in ascending distance order.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]Hit, error) {
	resp, err := c.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          topK,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hit := Hit{
			ID:       r.Id.GetUuid(),
			Metadata: make(map[string]string),
			// Qdrant returns cosine similarity; fold it into a distance so
			// ascending order is best-first everywhere downstream.
			Distance: 1 - float64(r.Score),
		}
		for k, v := range r.Payload {
			sv, ok := v.Kind.(*pb.Value_StringValue)
			if !ok {
				continue
			}
			if k == textKey {
				hit.Text = sv.StringValue
				continue
			}
			hit.Metadata[k] = sv.StringValue
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of points stored in the collection.
func (c *Client) Count(ctx context.Context, collection string) (uint64, error) {
	exact := true
	resp, err := c.points.Count(ctx, &pb.CountPoints{
		CollectionName: collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return resp.GetResult().GetCount(), nil
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
