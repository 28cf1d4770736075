// Package rpc registers gRPC services whose messages are the well-known
// google.protobuf.Struct and google.protobuf.Empty types. Service descriptors
// are built at startup and added to the global registry so server reflection
// can describe them.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Handler serves one unary method. req is empty for EmptyInput methods.
type Handler func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

type Method struct {
	Name       string
	EmptyInput bool
	Handler    Handler
}

// Service describes a unary-only service.
type Service struct {
	// Package is the proto package, e.g. "gohome.plugins.medtrum.v1".
	Package string
	Name    string
	// File is the virtual .proto path reported through reflection.
	File    string
	Methods []Method
}

func (s Service) FullName() string {
	return s.Package + "." + s.Name
}

func (s Service) MethodPath(name string) string {
	return "/" + s.FullName() + "/" + name
}

var (
	structName = string((&structpb.Struct{}).ProtoReflect().Descriptor().FullName())
	emptyName  = string((&emptypb.Empty{}).ProtoReflect().Descriptor().FullName())
	structFile = (&structpb.Struct{}).ProtoReflect().Descriptor().ParentFile().Path()
	emptyFile  = (&emptypb.Empty{}).ProtoReflect().Descriptor().ParentFile().Path()
)

// Describe builds (or looks up) the file descriptor for svc.
func Describe(svc Service) (protoreflect.FileDescriptor, error) {
	if svc.Package == "" || svc.Name == "" || svc.File == "" {
		return nil, fmt.Errorf("rpc service needs package, name, and file")
	}
	if fd, err := protoregistry.GlobalFiles.FindFileByPath(svc.File); err == nil {
		return fd, nil
	}

	usesEmpty := false
	methods := make([]*descriptorpb.MethodDescriptorProto, 0, len(svc.Methods))
	for _, m := range svc.Methods {
		input := structName
		if m.EmptyInput {
			input = emptyName
			usesEmpty = true
		}
		methods = append(methods, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.Name),
			InputType:  proto.String("." + input),
			OutputType: proto.String("." + structName),
		})
	}

	deps := []string{structFile}
	if usesEmpty {
		deps = append(deps, emptyFile)
	}
	fdp := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(svc.File),
		Package:    proto.String(svc.Package),
		Dependency: deps,
		Syntax:     proto.String("proto3"),
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String(svc.Name),
			Method: methods,
		}},
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String(goPackage(svc.Package)),
		},
	}

	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		return nil, fmt.Errorf("build descriptor %s: %w", svc.File, err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		return nil, fmt.Errorf("register descriptor %s: %w", svc.File, err)
	}
	return fd, nil
}

// Register adds svc to server.
func Register(server grpc.ServiceRegistrar, svc Service) error {
	if _, err := Describe(svc); err != nil {
		return err
	}

	desc := &grpc.ServiceDesc{
		ServiceName: svc.FullName(),
		HandlerType: (*any)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    svc.File,
	}
	for _, m := range svc.Methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.Name,
			Handler:    unaryHandler(svc.MethodPath(m.Name), m),
		})
	}
	server.RegisterService(desc, struct{}{})
	return nil
}

func unaryHandler(fullMethod string, m Method) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		var in proto.Message = &structpb.Struct{}
		if m.EmptyInput {
			in = &emptypb.Empty{}
		}
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req any) (any, error) {
			s, _ := req.(*structpb.Struct)
			if s == nil {
				s = &structpb.Struct{}
			}
			return m.Handler(ctx, s)
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, call)
	}
}

func goPackage(pkg string) string {
	parts := strings.Split(pkg, ".")
	return "github.com/joshp123/gohome-medtrum/rpc/" + strings.Join(parts, "/")
}

// ToStruct converts any JSON-encodable value into a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("response is not an object: %w", err)
	}
	return structpb.NewStruct(m)
}

// StringField reads an optional string argument.
func StringField(req *structpb.Struct, name string) string {
	if req == nil {
		return ""
	}
	v, ok := req.GetFields()[name]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}
