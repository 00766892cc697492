package main

import (
	"fmt"

	"converse/internal/config"
	"converse/internal/domain"
	"converse/internal/stories"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	trainDomainPath  string
	trainStoriesPath string
	trainConfigPath  string
	trainOutDir      string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a policy ensemble from a domain and stories",
	Long: `Reads the domain and the training stories, trains every configured
policy and writes the model directory (ensemble metadata, one artifact per
policy, and the domain's state-schema specification).`,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().StringVarP(&trainDomainPath, "domain", "d", "domain.yml", "domain file or directory")
	trainCmd.Flags().StringVarP(&trainStoriesPath, "stories", "s", "stories.yml", "stories file or directory")
	trainCmd.Flags().StringVarP(&trainConfigPath, "config", "c", "", "policy configuration file (default built-in stack)")
	trainCmd.Flags().StringVarP(&trainOutDir, "out", "o", "model", "output model directory")
}

func loadTrainingConfig() (*config.Config, error) {
	if trainConfigPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(trainConfigPath)
}

func runTrain(cmd *cobra.Command, args []string) error {
	log := logger.Named("train")

	cfg, err := loadTrainingConfig()
	if err != nil {
		return err
	}

	d, err := domain.FromPath(trainDomainPath, log)
	if err != nil {
		return err
	}

	corpus, err := stories.FromPath(trainStoriesPath)
	if err != nil {
		return err
	}
	trackers := stories.ToTrackers(corpus, d)

	ensemble, err := cfg.BuildEnsemble(log)
	if err != nil {
		return err
	}

	log.Info("training policies",
		zap.Int("stories", len(trackers)),
		zap.Int("policies", len(ensemble.Policies())))
	if err := ensemble.Train(trackers, d); err != nil {
		return err
	}

	if err := ensemble.Persist(trainOutDir, d); err != nil {
		return err
	}
	fmt.Printf("Model written to %s\n", trainOutDir)
	return nil
}
