package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haloview/haloview-go/internal/auth"
	"github.com/haloview/haloview-go/internal/camstore"
	"github.com/haloview/haloview-go/internal/config"
)

func camerasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cameras",
		Short: "List the cameras on your account",
		Run: func(cmd *cobra.Command, args []string) {
			a, err := newApp()
			if err != nil {
				fatalf("%s", err)
			}
			defer a.close()

			if !a.auth.IsAuthenticated() {
				fatalf("not signed in — run `haloview pair` first")
			}

			ctx := context.Background()
			if err := a.auth.RefreshTokenIfNeeded(ctx); err != nil {
				if auth.IsKind(err, auth.KindSessionExpired) {
					fatalf("session expired — run `haloview pair` again")
				}
				// A refresh that failed on the network is not fatal:
				// the current token may still work.
				fmt.Printf("warning: token refresh failed: %s\n", err)
			}

			store, err := camstore.Open(config.CameraCachePath())
			if err != nil {
				fatalf("%s", err)
			}
			defer store.Close()

			cameras, err := store.Sync(ctx, a.client, a.auth.AccessToken())
			if err != nil {
				fmt.Printf("warning: could not reach the server (%s); showing cached list\n", err)
				cameras, err = store.List(ctx)
				if err != nil {
					fatalf("%s", err)
				}
			}

			if len(cameras) == 0 {
				fmt.Println("No cameras on this account.")
				return
			}
			for _, cam := range cameras {
				state := "offline"
				if cam.Online {
					state = "online"
				}
				fmt.Printf("  %-20s %-10s %s\n", cam.Name, cam.Model, state)
			}
		},
	}
}
