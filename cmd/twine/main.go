package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"xdao.co/twine/internal/logging"
	"xdao.co/twine/keys"
	"xdao.co/twine/storage"
	"xdao.co/twine/storage/storeconfig"
	"xdao.co/twine/storage/storeregistry"

	_ "xdao.co/twine/storage/boltstore"
	_ "xdao.co/twine/storage/carstore"
	_ "xdao.co/twine/storage/grpcstore"
	_ "xdao.co/twine/storage/localfs"
	_ "xdao.co/twine/storage/memory"
	_ "xdao.co/twine/storage/sqlstore"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// usageError marks bad arguments; run exits 2 for them.
type usageError struct{ error }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// app carries the global flags and the handles commands share.
type app struct {
	out, errOut io.Writer

	configPath string
	storeURI   string
	resolver   string
	keysDir    string
	logLevel   string
	logDev     bool

	log *zap.Logger
}

func run(args []string, out, errOut io.Writer) int {
	a := &app{out: out, errOut: errOut, log: zap.NewNop()}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := root.ExecuteContext(ctx)
	_ = a.log.Sync()
	if err == nil {
		return 0
	}
	fmt.Fprintln(errOut, "error:", err)
	var ue usageError
	if errors.As(err, &ue) {
		return 2
	}
	return 1
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "twine",
		Short:         "Build, fetch and verify twine chains",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			l, err := logging.New(a.logLevel, a.logDev)
			if err != nil {
				return usagef("invalid --log-level: %v", err)
			}
			a.log = l
			return nil
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Resolver config file (default $"+storeconfig.EnvVar+" or ~/.twine/config.yaml)")
	pf.StringVar(&a.storeURI, "store", "", "Open this store URI instead of the configured resolvers")
	pf.StringVarP(&a.resolver, "resolver", "r", "", "Configured resolver to prefer (default: the config default)")
	pf.StringVar(&a.keysDir, "keys-dir", "", "Key store directory (default ~/.twine/keys)")
	pf.StringVar(&a.logLevel, "log-level", logging.LevelWarn, "Log level: debug, info, warn, error or none")
	pf.BoolVar(&a.logDev, "log-dev", false, "Human-readable log output")

	root.AddCommand(
		a.resolverCommand(),
		a.strandsCommand(),
		a.getCommand(),
		a.verifyCommand(),
		a.keyCommand(),
		a.chainCommand(),
		a.bundleCommand(),
		a.pullCommand(),
	)
	return root
}

func (a *app) configFile() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return storeconfig.DefaultPath()
}

func (a *app) loadConfig() (*storeconfig.Config, string, error) {
	path, err := a.configFile()
	if err != nil {
		return nil, "", err
	}
	cfg, err := storeconfig.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// openStore opens --store if set, else the configured resolvers.
func (a *app) openStore(ctx context.Context) (storage.Store, func() error, error) {
	opts := storeregistry.Options{Logger: a.log}
	if a.storeURI != "" {
		return storeregistry.Open(ctx, a.storeURI, storeregistry.UsageCLI, opts)
	}
	cfg, path, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if len(cfg.Resolvers) == 0 {
		return nil, nil, usagef("no resolvers in %s; add one with `twine resolver add` or pass --store", path)
	}
	return cfg.Open(ctx, storeregistry.UsageCLI, a.resolver, opts)
}

// withStore opens the store for the duration of fn.
func (a *app) withStore(ctx context.Context, fn func(storage.Store) error) (err error) {
	st, closeFn, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(st)
}

func (a *app) keyStore() (*keys.KeyStore, error) {
	return keys.OpenKeyStore(a.keysDir)
}
