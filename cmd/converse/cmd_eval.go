package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"converse/internal/domain"
	"converse/internal/evaluate"
	"converse/internal/policy"
	"converse/internal/processor"
	"converse/internal/store"
	"converse/internal/stories"

	"github.com/spf13/cobra"
)

var (
	testModelDir    string
	testDomainPath  string
	testStoriesPath string
	testOutDir      string
	testE2E         bool
	testFailFast    bool
	testMaxStories  int
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Evaluate a trained model against stories",
	Long: `Replays the given stories against the trained model and reports
accuracy, weighted precision and F1, the fraction of turns answered from
training data, and (with --out) the transcripts of every failed story.`,
	RunE: runTest,
}

func init() {
	testCmd.Flags().StringVarP(&testModelDir, "model", "m", "model", "trained model directory")
	testCmd.Flags().StringVarP(&testDomainPath, "domain", "d", "domain.yml", "domain file or directory")
	testCmd.Flags().StringVarP(&testStoriesPath, "stories", "s", "stories.yml", "stories file or directory")
	testCmd.Flags().StringVarP(&testOutDir, "out", "o", "", "directory for failed_stories.md")
	testCmd.Flags().BoolVar(&testE2E, "e2e", false, "also score recorded intents and entities")
	testCmd.Flags().BoolVar(&testFailFast, "fail-on-prediction-errors", false, "abort at the first wrong prediction")
	testCmd.Flags().IntVar(&testMaxStories, "max-stories", 0, "evaluate at most this many stories (0 = all)")
}

func runTest(cmd *cobra.Command, args []string) error {
	log := logger.Named("test")

	d, err := domain.FromPath(testDomainPath, log)
	if err != nil {
		return err
	}

	// The domain must still match the state schema the model was trained
	// against.
	var changed *domain.SpecChangedError
	if err := d.CompareWithSpecification(testModelDir); err != nil {
		if errors.As(err, &changed) {
			return fmt.Errorf("domain changed since the model was trained, retrain first: %w", err)
		}
		return err
	}

	ensemble, err := policy.LoadEnsemble(testModelDir, log)
	if err != nil {
		return err
	}

	corpus, err := stories.FromPath(testStoriesPath)
	if err != nil {
		return err
	}
	trackers := stories.ToTrackers(corpus, d)

	p := processor.New(d, ensemble, store.NewInMemoryTrackerStore(), 0, log)
	result, err := evaluate.Test(cmd.Context(), trackers, p, evaluate.Options{
		FailOnPredictionErrors: testFailFast,
		E2E:                    testE2E,
		OutDirectory:           testOutDir,
		MaxStories:             testMaxStories,
		Logger:                 log,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
