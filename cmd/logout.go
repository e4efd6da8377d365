package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove stored credentials",
		Run: func(cmd *cobra.Command, args []string) {
			a, err := newApp()
			if err != nil {
				fatalf("%s", err)
			}
			defer a.close()

			a.auth.Logout()
			fmt.Println("Signed out.")
		},
	}
}
