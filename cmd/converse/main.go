// Command converse trains, evaluates and serves conversational dialogue
// models built from a domain, training stories and a policy ensemble.
package main

import (
	"fmt"
	"os"

	"converse/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	verbose bool
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "converse",
	Short: "converse - dialogue policy runtime",
	Long: `converse drives task-oriented conversations with an ensemble of
dialogue policies trained from example stories.

A domain describes the assistant's universe (intents, entities, slots,
responses, actions, forms); stories are recorded conversations; the policy
ensemble picks the next action at every turn.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(statesCmd)
	rootCmd.AddCommand(chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
