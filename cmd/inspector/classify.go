package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lid-inspector/internal/config"
	"lid-inspector/internal/domain"
	"lid-inspector/internal/imageproc"
	"lid-inspector/internal/vision"
)

func newClassifyCommand() *cobra.Command {
	var (
		strictness int
		noBrand    bool
		keepGlare  bool
	)

	cmd := &cobra.Command{
		Use:   "classify <image>",
		Short: "Grade a single frame and print the verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := loadConfig(logger)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			key := strings.TrimSpace(cfg.Vision.APIKey)
			if key == "" || key == config.PlaceholderAPIKey {
				return fmt.Errorf("missing OPENAI_API_KEY")
			}

			settings := domain.Settings{Strictness: cfg.Watch.DefaultStrictness, NoBrand: cfg.Watch.NoBrand || noBrand}
			if cmd.Flags().Changed("strictness") {
				settings.Strictness = strictness
			}
			if !settings.Valid() {
				return fmt.Errorf("strictness must be between %d and %d", domain.MinStrictness, domain.MaxStrictness)
			}

			classifier, err := vision.NewOpenAIClassifier(vision.Config{
				APIKey:  key,
				BaseURL: cfg.Vision.BaseURL,
				Model:   cfg.Vision.Model,
				Timeout: cfg.Vision.Timeout,
			})
			if err != nil {
				return err
			}

			img, err := imageproc.LoadImage(args[0])
			if err != nil {
				return err
			}
			if !keepGlare {
				img = imageproc.RemoveGlare(img)
			}

			res, err := classifier.Classify(cmd.Context(), img, settings)
			if err != nil {
				return fmt.Errorf("classify %s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatResult(res))
			return nil
		},
	}

	cmd.Flags().IntVar(&strictness, "strictness", domain.DefaultStrictness, "strictness level 1 (lenient) to 5 (strict)")
	cmd.Flags().BoolVar(&noBrand, "no-brand", false, "ignore brand print quality")
	cmd.Flags().BoolVar(&keepGlare, "keep-glare", false, "send the frame without glare removal")
	return cmd
}

// formatResult mirrors the reply line; the reason already carries the confidence.
func formatResult(res vision.Result) string {
	out := string(res.Verdict)
	if res.Reason != "" {
		out += " - " + res.Reason
	}
	return out
}
