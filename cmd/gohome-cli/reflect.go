package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
)

const reflectionPrefix = "grpc.reflection."

type headerFlags []string

func (h *headerFlags) String() string { return strings.Join(*h, ", ") }

func (h *headerFlags) Set(value string) error {
	if !strings.Contains(value, ":") {
		return fmt.Errorf("header %q must be name: value", value)
	}
	*h = append(*h, value)
	return nil
}

func descriptorSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	return grpcurl.DescriptorSourceFromServer(ctx, grpcreflect.NewClientAuto(ctx, conn))
}

// servicesCmd lists application services; the reflection service itself is hidden.
func servicesCmd(ctx context.Context, conn *grpc.ClientConn) {
	services, err := grpcurl.ListServices(descriptorSource(ctx, conn))
	if err != nil {
		fatal("list services", err)
	}
	for _, name := range visibleServices(services) {
		fmt.Println(name)
	}
}

func visibleServices(services []string) []string {
	out := make([]string, 0, len(services))
	for _, name := range services {
		if strings.HasPrefix(name, reflectionPrefix) {
			continue
		}
		out = append(out, name)
	}
	return out
}

func methodsCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	if len(args) < 1 {
		fatal("methods", fmt.Errorf("missing service name"))
	}
	source := descriptorSource(ctx, conn)
	services, err := grpcurl.ListServices(source)
	if err != nil {
		fatal("list services", err)
	}
	service, err := matchService(args[0], visibleServices(services))
	if err != nil {
		fatal("methods", err)
	}

	methods, err := grpcurl.ListMethods(source, service)
	if err != nil {
		fatal("list methods", err)
	}
	for _, method := range methods {
		fmt.Println(method)
	}
}

// matchService accepts a full service name or its last element
// ("MedtrumService" for gohome.plugins.medtrum.v1.MedtrumService).
func matchService(input string, services []string) (string, error) {
	var matches []string
	for _, name := range services {
		if name == input {
			return name, nil
		}
		if strings.EqualFold(name[strings.LastIndex(name, ".")+1:], input) {
			matches = append(matches, name)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("unknown service %q", input)
	default:
		return "", fmt.Errorf("service %q is ambiguous: %s", input, strings.Join(matches, ", "))
	}
}

func callCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	flags := flag.NewFlagSet("call", flag.ExitOnError)
	data := flags.String("data", "", "JSON request body")
	emitDefaults := flags.Bool("emit-defaults", false, "include zero-valued fields in the response")
	var headers headerFlags
	flags.Var(&headers, "H", "request metadata as 'name: value' (repeatable)")
	_ = flags.Parse(args)
	if flags.NArg() < 1 {
		fatal("call", fmt.Errorf("missing method (service/method)"))
	}
	method := flags.Arg(0)
	// Flags may also follow the method.
	_ = flags.Parse(flags.Args()[1:])

	source := descriptorSource(ctx, conn)
	parser, formatter, err := grpcurl.RequestParserAndFormatter(grpcurl.FormatJSON, source, requestBody(*data), grpcurl.FormatOptions{
		EmitJSONDefaultFields: *emitDefaults,
	})
	if err != nil {
		fatal("parse request", err)
	}

	handler := &grpcurl.DefaultEventHandler{Out: os.Stdout, Formatter: formatter}
	if err := grpcurl.InvokeRPC(ctx, source, conn, method, headers, handler, parser.Next); err != nil {
		fatal("invoke", err)
	}
	if handler.Status != nil && handler.Status.Err() != nil {
		fatal("call", handler.Status.Err())
	}
}

// requestBody prefers --data, then piped stdin, then an empty object.
func requestBody(data string) io.Reader {
	if data != "" {
		return strings.NewReader(data)
	}
	if info, err := os.Stdin.Stat(); err == nil && info.Mode()&os.ModeCharDevice == 0 {
		return os.Stdin
	}
	return strings.NewReader("{}")
}
