package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jstool.dev/pkg/jstool/internal/adapter"
)

// initCmd represents the init command.
var initCmd = newInitCmd()

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate a default suite description and jstool.yaml",
		Long: `Create ` + adapter.DefaultSuiteFile + ` and jstool.yaml in the current working directory.
An existing suite description is left untouched. jstool.yaml is populated
with the current CLI defaults so it can be edited manually.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			suitePath := filepath.Join(configFolderPath, adapter.DefaultSuiteFile)

			created, err := adapter.WriteDefaultSuite(fsAdapter, suitePath)
			if err != nil {
				return fmt.Errorf("failed to write suite description: %w", err)
			}

			if created {
				cmd.Printf("Created %s\n", suitePath)
			} else {
				cmd.Printf("%s already exists, leaving it unchanged\n", suitePath)
			}

			targetPath := filepath.Join(configFolderPath, configFileName)

			err = viper.SafeWriteConfigAs(targetPath)
			if err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			cmd.Printf("Created %s\n", targetPath)

			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
}
