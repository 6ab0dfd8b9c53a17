// ckpt-panel bridges memory-access checkpoints between a native debug
// session and a visualization panel host.
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func init() {
	// read .env
	_ = godotenv.Load()
}

func main() {
	rootCmd := cmdRoot()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
