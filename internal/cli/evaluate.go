package cli

import (
	"errors"

	"arrangement-grading-service/internal/domain"
	"arrangement-grading-service/internal/grading"
	"github.com/spf13/cobra"
)

// NewValidateCmd checks an arrangement file and reports the first problem found.
func NewValidateCmd() *cobra.Command {
	var arrangementPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an arrangement definition (JSON or YAML)",
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := readArrangement(arrangementPath)
			if err != nil {
				var ce *domain.ConfigError
				if errors.As(err, &ce) {
					_ = printJSON(cmd.OutOrStdout(), map[string]any{"valid": false, "error": ce})
				}
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"valid": true, "id": def.ID, "groups": len(def.Groups)})
		},
	}
	cmd.Flags().StringVar(&arrangementPath, "arrangement", "", "path to arrangement file")
	_ = cmd.MarkFlagRequired("arrangement")
	return cmd
}

// NewEvaluateCmd grades outcomes, or a raw attempt history, against an arrangement file.
func NewEvaluateCmd() *cobra.Command {
	var (
		arrangementPath string
		outcomesPath    string
		attemptsPath    string
		policyName      string
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Grade outcomes or attempts against an arrangement",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (outcomesPath == "") == (attemptsPath == "") {
				return errors.New("exactly one of --outcomes or --attempts is required")
			}
			def, err := readArrangement(arrangementPath)
			if err != nil {
				return err
			}
			g, err := grading.NewGrader(def)
			if err != nil {
				return err
			}

			var outcomes []domain.QuestionOutcome
			if outcomesPath != "" {
				outcomes, err = readList[domain.QuestionOutcome](outcomesPath)
				if err != nil {
					return err
				}
			} else {
				policy, err := grading.ParsePolicy(policyName)
				if err != nil {
					return err
				}
				attempts, err := readList[domain.Attempt](attemptsPath)
				if err != nil {
					return err
				}
				if err := domain.ValidateAttempts(attempts); err != nil {
					return err
				}
				outcomes = grading.Resolve(policy, attempts)
			}
			return printJSON(cmd.OutOrStdout(), g.Evaluate(outcomes))
		},
	}
	cmd.Flags().StringVar(&arrangementPath, "arrangement", "", "path to arrangement file")
	cmd.Flags().StringVar(&outcomesPath, "outcomes", "", "path to resolved outcomes file")
	cmd.Flags().StringVar(&attemptsPath, "attempts", "", "path to attempt history file")
	cmd.Flags().StringVar(&policyName, "policy", "latest", "resolution policy for --attempts: latest or best")
	_ = cmd.MarkFlagRequired("arrangement")
	return cmd
}
