package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/autotagger/internal/providers"
)

func newRecognizeCmd() *cobra.Command {
	var model, assetPath string

	cmd := &cobra.Command{
		Use:   "recognize <asset-id>",
		Short: "Tag a single Elvis asset",
		Long: `Downloads the preview of an Elvis asset, runs it through every enabled
recognition provider and writes the merged tags back to Elvis.

The updated asset is printed as JSON.`,
		Example: `  autotagger recognize 9ycyr7B5qpCBhXN1d7Ut3T

  # Use a specific Clarifai model
  autotagger recognize 9ycyr7B5qpCBhXN1d7Ut3T --model food-item-recognition`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			hints := providers.Hints{AssetPath: assetPath}
			if model != "" {
				hints.Models = []string{model}
			}

			hit, err := a.recognizer.Recognize(cmd.Context(), args[0], hints)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(hit, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Clarifai model to use instead of the configured ones")
	cmd.Flags().StringVar(&assetPath, "asset-path", "", "Asset path used to select Clarifai models")

	return cmd
}
