package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fullstorydev/grpcurl"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-medtrum/internal/config"
)

func main() {
	args, jsonOutput := splitGlobalFlags(os.Args[1:])
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	addr := resolveAddr()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := grpcurl.BlockingDial(ctx, "tcp", addr, insecure.NewCredentials())
	if err != nil {
		fatal("dial", err)
	}
	defer conn.Close()

	switch args[0] {
	case "plugins":
		pluginsCmd(ctx, conn, args[1:], jsonOutput)
	case "services":
		servicesCmd(ctx, conn)
	case "methods":
		methodsCmd(ctx, conn, args[1:])
	case "call":
		callCmd(ctx, conn, args[1:])
	case "medtrum":
		medtrumCmd(ctx, conn, args[1:], jsonOutput)
	default:
		usage()
		os.Exit(2)
	}
}

func pluginsCmd(ctx context.Context, conn *grpc.ClientConn, args []string, jsonOutput bool) {
	out := outputMode{json: jsonOutput}
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "list":
		resp, err := invoke(ctx, conn, "/gohome.registry.v1.Registry/ListPlugins", &emptypb.Empty{})
		if err != nil {
			fatal("list plugins", err)
		}
		if out.json {
			out.printJSON(resp)
			return
		}
		rows := [][]string{{"ID", "NAME", "VERSION", "STATUS"}}
		for _, plugin := range listOf(resp, "plugins") {
			rows = append(rows, []string{str(plugin, "plugin_id"), str(plugin, "display_name"), str(plugin, "version"), str(plugin, "status")})
		}
		out.table(rows)
	case "describe":
		if len(args) < 2 {
			fatal("describe", fmt.Errorf("missing plugin id"))
		}
		req, err := structpb.NewStruct(map[string]any{"plugin_id": args[1]})
		if err != nil {
			fatal("describe plugin", err)
		}
		resp, err := invoke(ctx, conn, "/gohome.registry.v1.Registry/DescribePlugin", req)
		if err != nil {
			fatal("describe plugin", err)
		}
		if out.json {
			out.printJSON(resp)
			return
		}
		plugin, _ := resp["plugin"].(map[string]any)
		fmt.Printf("id: %s\n", str(plugin, "plugin_id"))
		fmt.Printf("name: %s\n", str(plugin, "display_name"))
		fmt.Printf("version: %s\n", str(plugin, "version"))
		fmt.Printf("status: %s\n", str(plugin, "status"))
		if msg := str(plugin, "health_message"); msg != "" {
			fmt.Printf("health: %s\n", msg)
		}
		fmt.Println("services:")
		services, _ := plugin["services"].([]any)
		for _, svc := range services {
			fmt.Printf("  - %v\n", svc)
		}
		fmt.Println("dashboards:")
		for _, dash := range listOf(plugin, "dashboards") {
			fmt.Printf("  - %s (%s)\n", str(dash, "name"), str(dash, "path"))
		}
		fmt.Println("agents_md:")
		fmt.Println(str(plugin, "agents_md"))
	default:
		usage()
		os.Exit(2)
	}
}

// splitGlobalFlags pulls --json out of args wherever it appears.
func splitGlobalFlags(args []string) ([]string, bool) {
	out := make([]string, 0, len(args))
	jsonOutput := false
	for _, arg := range args {
		if arg == "--json" || arg == "-json" {
			jsonOutput = true
			continue
		}
		out = append(out, arg)
	}
	return out, jsonOutput
}

func resolveAddr() string {
	if value := os.Getenv("GOHOME_GRPC_ADDR"); value != "" {
		return value
	}
	for _, path := range configSearchPaths() {
		if addr := addrFromConfig(path); addr != "" {
			return addr
		}
	}
	return "gohome:9000"
}

func configSearchPaths() []string {
	paths := []string{config.DefaultPath}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "gohome", "config.yaml"))
	}
	return paths
}

func addrFromConfig(path string) string {
	cfg, err := config.Load(path)
	if err != nil || cfg == nil || cfg.Core == nil {
		return ""
	}
	return cfg.Core.GRPCAddr
}

func usage() {
	fmt.Println("gohome-cli <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  plugins list")
	fmt.Println("  plugins describe <plugin_id>")
	fmt.Println("  services")
	fmt.Println("  methods <service>          full or short service name")
	fmt.Println("  call [-H 'k: v'] [--emit-defaults] <service/method> --data '{}' (or pipe JSON via stdin)")
	fmt.Println("  medtrum status|readings|snapshot|reauth")
	fmt.Println("")
	fmt.Println("Flags:")
	fmt.Println("  --json   print raw JSON")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
