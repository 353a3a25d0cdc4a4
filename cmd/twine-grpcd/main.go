package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"xdao.co/twine/internal/logging"
	"xdao.co/twine/storage"
	"xdao.co/twine/storage/cache"
	"xdao.co/twine/storage/grpcstore"
	"xdao.co/twine/storage/storeconfig"
	"xdao.co/twine/storage/storeregistry"

	_ "xdao.co/twine/storage/boltstore"
	_ "xdao.co/twine/storage/localfs"
	_ "xdao.co/twine/storage/memory"
	_ "xdao.co/twine/storage/sqlstore"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	listen       string
	storeURI     string
	configPath   string
	resolver     string
	cacheSize    int
	maxMsgBytes  int
	listBackends bool
	logLevel     string
	logDev       bool
}

func run(args []string, out, errOut io.Writer) int {
	var o options
	cmd := &cobra.Command{
		Use:           "twine-grpcd",
		Short:         "Serve a twine store over gRPC",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.listBackends {
				for _, b := range storeregistry.List(storeregistry.UsageDaemon) {
					fmt.Fprintf(out, "%s\t%s\n", b.Scheme, b.Description)
				}
				return nil
			}
			return o.serve(cmd.Context(), errOut)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.listen, "listen", "127.0.0.1:7777", "Listen address")
	f.StringVar(&o.storeURI, "store", "", "Store URI to serve (default: the configured resolvers)")
	f.StringVar(&o.configPath, "config", "", "Resolver config file (default $"+storeconfig.EnvVar+" or ~/.twine/config.yaml)")
	f.StringVar(&o.resolver, "resolver", "", "Configured resolver to prefer")
	f.IntVar(&o.cacheSize, "cache-size", cache.DefaultSize, "Entries per read cache; 0 disables caching")
	f.IntVar(&o.maxMsgBytes, "max-msg-bytes", 16<<20, "Maximum gRPC message size")
	f.BoolVar(&o.listBackends, "list-backends", false, "List supported backends and exit")
	f.StringVar(&o.logLevel, "log-level", logging.LevelInfo, "Log level")
	f.BoolVar(&o.logDev, "log-dev", false, "Human-readable log output")

	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	return 0
}

func (o *options) serve(ctx context.Context, errOut io.Writer) error {
	log, err := logging.New(o.logLevel, o.logDev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	st, closeFn, err := o.open(ctx, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeFn(); err != nil {
			log.Warn("close store", zap.Error(err))
		}
	}()

	lis, err := net.Listen("tcp", o.listen)
	if err != nil {
		return err
	}
	fmt.Fprintf(errOut, "twine-grpcd listening on %s\n", lis.Addr())
	return serve(ctx, lis, st, log, grpc.MaxRecvMsgSize(o.maxMsgBytes), grpc.MaxSendMsgSize(o.maxMsgBytes))
}

func (o *options) open(ctx context.Context, log *zap.Logger) (storage.Store, func() error, error) {
	opts := storeregistry.Options{Logger: log}
	var (
		st      storage.Store
		closeFn func() error
		err     error
	)
	if o.storeURI != "" {
		st, closeFn, err = storeregistry.Open(ctx, o.storeURI, storeregistry.UsageDaemon, opts)
	} else {
		path := o.configPath
		if path == "" {
			if path, err = storeconfig.DefaultPath(); err != nil {
				return nil, nil, err
			}
		}
		var cfg *storeconfig.Config
		if cfg, err = storeconfig.Load(path); err != nil {
			return nil, nil, err
		}
		st, closeFn, err = cfg.Open(ctx, storeregistry.UsageDaemon, o.resolver, opts)
	}
	if err != nil {
		return nil, nil, err
	}
	if o.cacheSize <= 0 {
		return st, closeFn, nil
	}
	cached, err := cache.NewStore(st, o.cacheSize, cache.WithLogger(log))
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return cached, closeFn, nil
}

// serve runs the Store service on lis until ctx is done, then drains
// in-flight calls.
func serve(ctx context.Context, lis net.Listener, st storage.Store, log *zap.Logger, opts ...grpc.ServerOption) error {
	s := grpc.NewServer(opts...)
	grpcstore.RegisterStoreServer(s, &grpcstore.Server{Store: st, Logger: log})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			s.GracefulStop()
		case <-done:
		}
	}()
	log.Info("serving", zap.String("addr", lis.Addr().String()))
	return s.Serve(lis)
}
