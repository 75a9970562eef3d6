// Package main is the entry point for the chat relay.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/chat-relay/internal/config"
)

var cfg *config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay chat and voice messages to a language model",
		Long: `relay connects users to a language model. Every user gets a rolling
conversation history that is flattened into a prompt under a word budget; the
model's Markdown reply is rendered to Telegram-style HTML, split into chunks and
optionally read aloud.

Configuration comes from the environment (and a .env file when present).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil {
				log.Printf("warning: failed to load .env file: %v", err)
				log.Println("continuing with system environment variables only")
			}

			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		chatCmd(),
		promptCmd(),
		speechCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
