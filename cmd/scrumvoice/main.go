// scrumvoice is a conversational daily-standup bot backed by an issue
// tracker. It asks the three standup questions, keeps the tracker in sync
// with what it hears, and can run either as an HTTP service (serve) or as a
// terminal conversation (chat).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
