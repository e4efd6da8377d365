package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haloview/haloview-go/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and manage the server configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configSetCmd())
	cmd.AddCommand(configClearCmd())
	cmd.AddCommand(configPathCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the current server configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(config.DefaultPath())
			if err != nil {
				fatalf("%s", err)
			}

			srv := cfg.Server
			if !srv.IsConfigured() {
				fmt.Println("No server configured; using the default cloud endpoint.")
				return
			}
			fmt.Printf("Host:            %s\n", srv.Host)
			if srv.Port != 0 {
				fmt.Printf("Port:            %d\n", srv.Port)
			}
			fmt.Printf("TLS:             %v\n", srv.TLS())
			fmt.Printf("Skip TLS verify: %v\n", srv.SkipTLSVerify)
		},
	}
}

func configSetCmd() *cobra.Command {
	var (
		host       string
		port       int
		useTLS     bool
		skipVerify bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set server fields (only the flags you pass are changed)",
		Run: func(cmd *cobra.Command, args []string) {
			path := config.DefaultPath()
			cfg, err := config.Load(path)
			if err != nil {
				fatalf("%s", err)
			}

			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("tls") {
				v := useTLS
				cfg.Server.UseTLS = &v
			}
			if cmd.Flags().Changed("skip-tls-verify") {
				if skipVerify && !cfg.Server.TLS() {
					fatalf("skip-tls-verify only applies when TLS is enabled")
				}
				cfg.Server.SkipTLSVerify = skipVerify
			}

			if err := cfg.Save(path); err != nil {
				fatalf("%s", err)
			}
			fmt.Println("Configuration saved.")
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Server hostname or IP")
	cmd.Flags().IntVar(&port, "port", 0, "Server port (1-65535)")
	cmd.Flags().BoolVar(&useTLS, "tls", true, "Use TLS")
	cmd.Flags().BoolVar(&skipVerify, "skip-tls-verify", false,
		"Accept a self-signed server certificate (local development only)")
	return cmd
}

func configClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the whole server configuration",
		Run: func(cmd *cobra.Command, args []string) {
			path := config.DefaultPath()
			cfg, err := config.Load(path)
			if err != nil {
				fatalf("%s", err)
			}
			cfg.ClearServer()
			if err := cfg.Save(path); err != nil {
				fatalf("%s", err)
			}
			fmt.Println("Server configuration cleared.")
		},
	}
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(config.DefaultPath())
		},
	}
}
