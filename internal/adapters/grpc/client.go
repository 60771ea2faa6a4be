package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client invokes steps over a StepService connection.
type Client struct {
	cc grpcpkg.ClientConnInterface
}

func NewClient(cc grpcpkg.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Invoke runs step with a JSON input and returns the JSON output. On failure
// the returned name is the taxonomy error name from the response trailer.
func (c *Client) Invoke(ctx context.Context, step string, input json.RawMessage) (json.RawMessage, string, error) {
	req, err := structpb.NewStruct(map[string]any{"step": step})
	if err != nil {
		return nil, "", err
	}
	if len(input) > 0 {
		var value structpb.Value
		if err := value.UnmarshalJSON(input); err != nil {
			return nil, "", fmt.Errorf("decode input: %w", err)
		}
		req.Fields["input"] = &value
	}

	var trailer metadata.MD
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, InvokeMethod, req, out, grpcpkg.Trailer(&trailer)); err != nil {
		return nil, ErrorName(trailer), err
	}
	raw, err := out.MarshalJSON()
	if err != nil {
		return nil, "", fmt.Errorf("encode output: %w", err)
	}
	return raw, "", nil
}
