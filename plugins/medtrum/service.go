package medtrum

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-medtrum/internal/rate"
	"github.com/joshp123/gohome-medtrum/internal/rpc"
)

const serviceName = "gohome.plugins.medtrum.v1.MedtrumService"

type service struct {
	plugin *Plugin
}

func medtrumService(s *service) rpc.Service {
	return rpc.Service{
		Package: "gohome.plugins.medtrum.v1",
		Name:    "MedtrumService",
		File:    "gohome/plugins/medtrum/v1/medtrum.proto",
		Methods: []rpc.Method{
			{Name: "GetSnapshot", EmptyInput: true, Handler: s.GetSnapshot},
			{Name: "ListReadings", Handler: s.ListReadings},
			{Name: "GetStatus", EmptyInput: true, Handler: s.GetStatus},
			{Name: "Reauthenticate", EmptyInput: true, Handler: s.Reauthenticate},
		},
	}
}

func RegisterMedtrumService(server *grpc.Server, plugin *Plugin) error {
	return rpc.Register(server, medtrumService(&service{plugin: plugin}))
}

type snapshotView struct {
	*Snapshot
	FetchedAt string `json:"fetched_at"`
}

func (s *service) coordinator() (*Coordinator, error) {
	if s.plugin == nil || s.plugin.coordinator == nil {
		return nil, status.Error(codes.FailedPrecondition, "medtrum client not configured")
	}
	return s.plugin.coordinator, nil
}

func (s *service) GetSnapshot(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	coordinator, err := s.coordinator()
	if err != nil {
		return nil, err
	}
	snapshot := coordinator.Snapshot()
	if snapshot == nil {
		return nil, status.Error(codes.Unavailable, "no snapshot yet")
	}
	out, err := rpc.ToStruct(snapshotView{Snapshot: snapshot, FetchedAt: snapshot.FetchedAt.Format(time.RFC3339)})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode snapshot: %v", err)
	}
	return out, nil
}

func (s *service) ListReadings(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	coordinator, err := s.coordinator()
	if err != nil {
		return nil, err
	}
	snapshot := coordinator.Snapshot()
	if snapshot == nil {
		return nil, status.Error(codes.Unavailable, "no snapshot yet")
	}

	var readings []Reading
	switch scope := Scope(rpc.StringField(req, "scope")); scope {
	case "":
		readings = Readings(snapshot)
	case ScopePump, ScopeSensor:
		readings = ReadingsForScope(snapshot, scope)
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown scope %q", scope)
	}

	out, err := rpc.ToStruct(map[string]any{"readings": readings})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode readings: %v", err)
	}
	return out, nil
}

func (s *service) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.plugin == nil {
		return nil, status.Error(codes.FailedPrecondition, "medtrum client not configured")
	}
	out, err := rpc.ToStruct(s.plugin.Status())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

func (s *service) Reauthenticate(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.plugin == nil {
		return nil, status.Error(codes.FailedPrecondition, "medtrum client not configured")
	}
	if err := s.plugin.Reauthenticate(ctx); err != nil {
		return nil, status.Error(grpcCode(err), err.Error())
	}
	out, err := rpc.ToStruct(s.plugin.Status())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

func grpcCode(err error) codes.Code {
	var limited rate.RateLimitError
	if errors.As(err, &limited) {
		return codes.ResourceExhausted
	}
	switch classifyOutcome(err) {
	case OutcomeAuthFailed:
		return codes.Unauthenticated
	case OutcomeCommunicationFailed:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
