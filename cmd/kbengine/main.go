// Command kbengine runs the pet-rescue knowledge retrieval engine: an ops
// server for the assistant, a seeding tool and an ad-hoc query tool.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
