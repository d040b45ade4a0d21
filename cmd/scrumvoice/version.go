package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the scrumvoice version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("scrumvoice", Version)
	},
}
