package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var sessionID string

var rootCmd = &cobra.Command{
	Use:   "liveclass",
	Short: "LiveClass joins a live classroom session as a student.",
	Run: func(cmd *cobra.Command, args []string) {
		runApp(sessionID)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to join on start (overrides SESSION_ID)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
