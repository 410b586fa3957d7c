package cli

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/ent0n29/booktalk/internal/config"
)

var Version = "dev"

func NewRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:   "booktalk",
		Short: "Voice conversations about books, with plan-based session limits",
		Long:  "booktalk runs the session quota authority and drives voice sessions against a realtime voice gateway.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFiles...); err != nil {
				log.Printf("continuing with process environment only: %v", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")

	root.AddCommand(
		newServeCmd(),
		newTalkCmd(),
		newPlansCmd(),
	)

	root.Version = Version
	root.SetVersionTemplate(fmt.Sprintf("booktalk %s\n", Version))

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
