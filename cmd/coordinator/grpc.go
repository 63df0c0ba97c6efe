package main

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/srand/jolt/coordinator/pkg/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Sets up a gRPC health server on a specific listening address and
// serves until ctx is cancelled.
func serveGrpc(ctx context.Context, healthServer *health.Server, address string) error {
	uri, err := url.Parse(address)
	if err != nil {
		return err
	}

	host := uri.Host

	switch uri.Scheme {
	case "tcp", "tcp4", "tcp6":
		if uri.Port() == "" {
			// Default port is 9090
			host = fmt.Sprintf("%s:9090", uri.Host)
		}
	case "unix":
		host = uri.Path
	default:
		return fmt.Errorf("unsupported protocol: %s", uri.Scheme)
	}

	socket, err := net.Listen(uri.Scheme, host)
	if err != nil {
		return err
	}

	if uri.Scheme == "unix" {
		socket.(*net.UnixListener).SetUnlinkOnClose(true)
		log.Info("Listening on", uri.Scheme, uri.Path)
	} else {
		log.Info("Listening on", uri.Scheme, socket.Addr())
	}

	opts := config.Grpc.ToServerOptions()

	server := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(server, healthServer)

	go func() {
		<-ctx.Done()
		server.GracefulStop()
	}()

	return server.Serve(socket)
}
