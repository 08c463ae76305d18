package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"ResearchDigest/internal/scoring"
)

func newExplainCmd(flags *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "explain [text]",
		Short: "Show how a piece of text scores against the configured categories",
		Long:  "Scores the given text (or --file, or stdin when neither is given) and prints every category's matched terms and sub-score.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.load()
			if err != nil {
				return err
			}
			engine, err := scoring.New(cfg.CategoryDefinitions())
			if err != nil {
				return err
			}

			var text string
			switch {
			case len(args) == 1:
				text = args[0]
			case file != "":
				raw, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
				text = string(raw)
			default:
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(raw)
			}

			writeExplanation(cmd.OutOrStdout(), engine, text, cfg.Scoring.MinScore)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read text from a file")
	return cmd
}

func writeExplanation(w io.Writer, engine *scoring.Engine, text string, threshold float64) {
	result := engine.Score(text)
	terms := engine.Explain(text)

	verdict := "below threshold"
	if result.Total >= threshold {
		verdict = "kept"
	}
	fmt.Fprintf(w, "score %.4f (threshold %.2f, %s)\n", result.Total, threshold, verdict)

	names := make([]string, 0, len(terms))
	for name := range terms {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if result.SubScores[names[i]] != result.SubScores[names[j]] {
			return result.SubScores[names[i]] > result.SubScores[names[j]]
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		fmt.Fprintf(w, "  %-16s %.4f  %s\n", name, result.SubScores[name], strings.Join(terms[name], ", "))
	}
}
