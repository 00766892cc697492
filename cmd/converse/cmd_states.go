package main

import (
	"fmt"

	"converse/internal/domain"

	"github.com/spf13/cobra"
)

var statesDomainPath string

var statesCmd = &cobra.Command{
	Use:   "states",
	Short: "Print the domain's input-state schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := domain.FromPath(statesDomainPath, logger)
		if err != nil {
			return err
		}
		for i, name := range d.InputStates() {
			fmt.Printf("%4d  %s\n", i, name)
		}
		fmt.Printf("\n%d input states, %d actions\n", d.NumStates(), d.NumActions())
		return nil
	},
}

func init() {
	statesCmd.Flags().StringVarP(&statesDomainPath, "domain", "d", "domain.yml", "domain file or directory")
}
