package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haloview/haloview-go/internal/endpoint"
	"github.com/haloview/haloview-go/internal/pairing"
)

func pairCmd() *cobra.Command {
	var noQR bool

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Pair this device with your HaloView account",
		Long: "Requests a pairing code, shows it here, and waits for you to\n" +
			"confirm it in the HaloView dashboard. Ctrl-C cancels.",
		Run: func(cmd *cobra.Command, args []string) {
			runPair(noQR)
		},
	}
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "Skip the QR code render")
	return cmd
}

func runPair(noQR bool) {
	a, err := newApp()
	if err != nil {
		fatalf("%s", err)
	}
	defer a.close()

	// Prefer a local server if one is advertising on this network.
	a.disco.Start()

	machine := pairing.NewMachine(a.auth)
	updates := make(chan pairing.State, 16)
	machine.OnChange(func(s pairing.State) { updates <- s })

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	fmt.Println("Requesting a pairing code...")
	machine.StartPairing()

	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	var codeShown bool

	for {
		select {
		case <-sigs:
			machine.Cancel()
			fmt.Println("\nPairing cancelled.")
			return

		case s := <-updates:
			switch s.Phase {
			case pairing.PhaseWaitingForConfirmation:
				if !codeShown {
					codeShown = true
					showCode(s, noQR)
				} else if interactive {
					fmt.Printf("\r  Expires in %s   ", formatRemaining(s.Remaining))
				}
			case pairing.PhaseConfirmed:
				fmt.Println("\nCode confirmed, finishing up...")
			case pairing.PhaseCompleted:
				fmt.Println("Device paired. You're signed in.")
				return
			case pairing.PhaseError:
				fatalf("pairing failed: %s", s.Message)
			}
		}
	}
}

func showCode(s pairing.State, noQR bool) {
	fmt.Println()
	fmt.Printf("  Your pairing code:  %s\n", pairing.FormatCode(s.Code))
	fmt.Printf("  Enter it in the HaloView dashboard within %s.\n", formatRemaining(s.Remaining))
	if !noQR {
		url := endpoint.DefaultBaseURL + "/pair?code=" + s.Code
		if qr, err := qrcode.New(url, qrcode.Medium); err == nil {
			fmt.Println(qr.ToSmallString(false))
		}
	}
	fmt.Println()
}

func formatRemaining(d time.Duration) string {
	d = d.Round(time.Second)
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d", m, s)
}
