package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haloview/haloview-go/internal/discovery"
)

func discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Search the local network for a HaloView server",
		Run: func(cmd *cobra.Command, args []string) {
			svc := discovery.NewService()
			defer svc.Close()

			fmt.Printf("Searching for %s (up to %s)...\n",
				discovery.ServiceName, discovery.SearchTimeout)
			svc.Start()

			deadline := time.Now().Add(discovery.SearchTimeout + time.Second)
			for time.Now().Before(deadline) {
				if ep := svc.Current(); ep != nil {
					fmt.Printf("Found local server: %s\n", ep.URL)
					return
				}
				if !svc.IsSearching() {
					break
				}
				time.Sleep(200 * time.Millisecond)
			}
			fmt.Println("No local server found; the client will use the configured or default endpoint.")
		},
	}
}
