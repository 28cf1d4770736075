package core

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-medtrum/internal/rpc"
)

// PluginSummary is one entry of ListPlugins.
type PluginSummary struct {
	PluginID    string `json:"plugin_id"`
	DisplayName string `json:"display_name"`
	Version     string `json:"version"`
	Status      string `json:"status"`
}

type DashboardRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// PluginDescriptor is the DescribePlugin payload.
type PluginDescriptor struct {
	PluginID      string         `json:"plugin_id"`
	DisplayName   string         `json:"display_name"`
	Version       string         `json:"version"`
	Services      []string       `json:"services"`
	AgentsMD      string         `json:"agents_md"`
	Status        string         `json:"status"`
	HealthMessage string         `json:"health_message,omitempty"`
	Dashboards    []DashboardRef `json:"dashboards"`
}

// RegistryService provides plugin discovery to clients.
type RegistryService struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewRegistryService(plugins []Plugin) *RegistryService {
	return &RegistryService{plugins: plugins}
}

// Service describes gohome.registry.v1.Registry.
func (r *RegistryService) Service() rpc.Service {
	return rpc.Service{
		Package: "gohome.registry.v1",
		Name:    "Registry",
		File:    "gohome/registry/v1/registry.proto",
		Methods: []rpc.Method{
			{Name: "ListPlugins", EmptyInput: true, Handler: r.listPluginsRPC},
			{Name: "DescribePlugin", Handler: r.describePluginRPC},
		},
	}
}

func (r *RegistryService) Register(server *grpc.Server) error {
	return rpc.Register(server, r.Service())
}

func (r *RegistryService) ListPlugins(ctx context.Context) []PluginSummary {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PluginSummary, 0, len(r.plugins))
	for _, p := range r.plugins {
		manifest := p.Manifest()
		out = append(out, PluginSummary{
			PluginID:    manifest.PluginID,
			DisplayName: manifest.DisplayName,
			Version:     manifest.Version,
			Status:      string(p.Health()),
		})
	}
	return out
}

func (r *RegistryService) DescribePlugin(ctx context.Context, pluginID string) (PluginDescriptor, bool) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		manifest := p.Manifest()
		if manifest.PluginID != pluginID {
			continue
		}

		descriptor := PluginDescriptor{
			PluginID:      manifest.PluginID,
			DisplayName:   manifest.DisplayName,
			Version:       manifest.Version,
			Services:      manifest.Services,
			AgentsMD:      p.AgentsMD(),
			Status:        string(p.Health()),
			HealthMessage: p.HealthMessage(),
		}
		for _, d := range p.Dashboards() {
			descriptor.Dashboards = append(descriptor.Dashboards, DashboardRef{
				Name: d.Name,
				Path: dashboardPath(manifest.PluginID, d.Name),
			})
		}
		return descriptor, true
	}
	return PluginDescriptor{}, false
}

func (r *RegistryService) listPluginsRPC(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	out, err := rpc.ToStruct(map[string]any{"plugins": r.ListPlugins(ctx)})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode plugins: %v", err)
	}
	return out, nil
}

func (r *RegistryService) describePluginRPC(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := rpc.StringField(req, "plugin_id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "plugin_id is required")
	}
	descriptor, ok := r.DescribePlugin(ctx, id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "plugin %q not found", id)
	}
	out, err := rpc.ToStruct(map[string]any{"plugin": descriptor})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode plugin: %v", err)
	}
	return out, nil
}
