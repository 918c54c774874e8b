package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/pathwise-sim/sim/scenario"
)

var exampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print a sample scenario YAML to stdout",
	Run: func(cmd *cobra.Command, args []string) {
		data, err := scenario.Example().Encode()
		if err != nil {
			logrus.Fatalf("Failed to encode example: %v", err)
		}
		if _, err := os.Stdout.Write(data); err != nil {
			logrus.Fatalf("Failed to write example: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(exampleCmd)
}
