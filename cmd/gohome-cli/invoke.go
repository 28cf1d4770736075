package main

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// invoke calls a Struct-returning unary method and returns it as a map.
func invoke(ctx context.Context, conn *grpc.ClientConn, method string, req proto.Message) (map[string]any, error) {
	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

func listOf(m map[string]any, key string) []map[string]any {
	raw, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if entry, ok := item.(map[string]any); ok {
			out = append(out, entry)
		}
	}
	return out
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprint(v)
	}
}
