package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scrumvoice/scrumvoice/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultPath
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		fmt.Println("Fill in tracker.url, tracker.email, tracker.api_token, and tracker.project_key,")
		fmt.Println("or export SCRUMVOICE_TRACKER_API_TOKEN and friends instead.")
		return nil
	},
}
