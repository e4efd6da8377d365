package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/haloview/haloview-go/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment, configuration, and server reachability",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("haloview doctor")
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := config.DefaultPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — defaults in effect)")
	} else {
		fmt.Println(" (OK)")
	}

	a, err := newApp()
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	defer a.close()

	fmt.Printf("  Server:   %s", a.resolver.BaseURL())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.client.Reachable(ctx) {
		fmt.Println(" (REACHABLE)")
	} else {
		fmt.Println(" (UNREACHABLE)")
	}

	fmt.Print("  Session:  ")
	if a.auth.IsAuthenticated() {
		fmt.Println("signed in")
	} else {
		fmt.Println("not signed in")
	}
}
