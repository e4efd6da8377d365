// Package cmd implements the haloview CLI.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/haloview/haloview-go/internal/auth"
	"github.com/haloview/haloview-go/internal/config"
	"github.com/haloview/haloview-go/internal/discovery"
	"github.com/haloview/haloview-go/internal/endpoint"
	"github.com/haloview/haloview-go/internal/identity"
	"github.com/haloview/haloview-go/internal/keystore"
	"github.com/haloview/haloview-go/internal/transport"
)

var verbose bool

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "haloview",
		Short: "HaloView companion client — pair this device and manage its session",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
				&slog.HandlerOptions{Level: level})))
		},
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(pairCmd())
	cmd.AddCommand(statusCmd())
	cmd.AddCommand(configCmd())
	cmd.AddCommand(discoverCmd())
	cmd.AddCommand(camerasCmd())
	cmd.AddCommand(logoutCmd())
	cmd.AddCommand(doctorCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app wires the client services together for one command invocation.
type app struct {
	cfgPath string

	mu  sync.RWMutex
	cfg *config.Config

	disco    *discovery.Service
	resolver *endpoint.Resolver
	client   *transport.Client
	creds    *keystore.CredentialStore
	ident    *identity.Manager
	auth     *auth.Service
	watcher  *config.Watcher
}

// newApp loads config and constructs the service graph. Call close when
// done to cancel outstanding discovery and stop the config watcher.
func newApp() (*app, error) {
	cfgPath := config.DefaultPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfgPath: cfgPath, cfg: cfg}
	a.disco = discovery.NewService()
	a.resolver = endpoint.NewResolver(a.disco, a.serverConfig)
	a.client = transport.NewClient(a.resolver.BaseURL, transport.Options{
		// Read per request so a hot-reloaded flag applies immediately.
		SkipTLSVerify: func() bool {
			srv := a.serverConfig()
			return srv.TLS() && srv.SkipTLSVerify
		},
	})
	a.creds = keystore.NewCredentialStore(openSecretStore())
	a.ident = identity.NewManager(config.IdentityPath())
	a.auth = auth.NewService(a.client, a.creds, a.ident)

	// Pick up config edits while a long-running command (pair) is live.
	if w, err := config.NewWatcher(cfgPath); err == nil {
		w.OnChange(func(cfg *config.Config) {
			a.mu.Lock()
			a.cfg = cfg
			a.mu.Unlock()
		})
		if err := w.Start(); err == nil {
			a.watcher = w
		}
	}

	return a, nil
}

func (a *app) close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.disco.Close()
}

func (a *app) serverConfig() config.ServerConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.Server
}

// openSecretStore prefers the OS keychain and falls back to the sealed
// file store on hosts without a keychain service.
func openSecretStore() keystore.Store {
	kc := keystore.NewKeychain("haloview")
	if err := kc.Set("probe", "1"); err != nil {
		slog.Debug("keychain unavailable, using sealed file store", "error", err)
		return keystore.NewFileStore(config.AppDir())
	}
	kc.Delete("probe")
	return kc
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
