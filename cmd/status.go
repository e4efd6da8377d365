package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication state and the resolved server",
		Run: func(cmd *cobra.Command, args []string) {
			a, err := newApp()
			if err != nil {
				fatalf("%s", err)
			}
			defer a.close()

			fmt.Printf("Server:        %s\n", a.resolver.BaseURL())

			id, err := a.ident.Get()
			if err == nil {
				name := id.DeviceName
				if name == "" {
					name = "(unnamed)"
				}
				fmt.Printf("Device:        %s  %s\n", id.DeviceID, name)
			}

			if !a.auth.IsAuthenticated() {
				fmt.Println("Authenticated: no — run `haloview pair`")
				return
			}

			fmt.Println("Authenticated: yes")
			if creds, err := a.creds.Load(); err == nil {
				remaining := creds.Remaining(time.Now()).Round(time.Second)
				if remaining > 0 {
					fmt.Printf("Token:         expires in %s\n", remaining)
				} else {
					fmt.Println("Token:         expired (will refresh on next use)")
				}
			}
		},
	}
}
