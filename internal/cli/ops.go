package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/pgokache/internal/advisor"
	"github.com/ppiankov/pgokache/internal/apperr"
	"github.com/ppiankov/pgokache/internal/baseline"
	"github.com/ppiankov/pgokache/internal/model"
	"github.com/ppiankov/pgokache/internal/reporter"
	"github.com/ppiankov/pgokache/internal/service"
	"github.com/ppiankov/pgokache/internal/store"
)

// Exit codes.
const (
	exitNotReady = 3
	exitFailOn   = 2
)

func newCheckCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "check <id>",
		Short: "Check pg_stat_statements readiness and print setup steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.format(cmd, format)
			if err != nil {
				return err
			}
			return a.withService(cmd, func(svc *service.Service) error {
				info, err := svc.CheckSetup(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := reporter.WriteSetup(cmd.OutOrStdout(), &info, f); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				if !info.Ready {
					return &ExitError{Code: exitNotReady, Msg: "instance " + args[0] + " is " + string(info.Status)}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func newCollectCmd(a *app) *cobra.Command {
	var (
		noRecommend bool
		format      string
	)

	cmd := &cobra.Command{
		Use:   "collect <id>",
		Short: "Snapshot statement statistics and refresh recommendations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.format(cmd, format)
			if err != nil {
				return err
			}
			return a.withService(cmd, func(svc *service.Service) error {
				res, err := svc.Collect(cmd.Context(), args[0], !noRecommend)
				if err != nil {
					return err
				}
				if f != reporter.FormatText {
					if err := reporter.WriteJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
				} else {
					w := cmd.OutOrStdout()
					fmt.Fprintf(w, "snapshot %s stored (%d statements)\n", res.SnapshotID, res.Rows)
					if res.Recommendations != nil {
						writeSummary(w, *res.Recommendations)
					}
				}
				if e := res.RecommendError; e != nil {
					return apperr.New(apperr.Kind(e.Kind), "cli.collect", "snapshot "+res.SnapshotID+" stored, recommendations not updated: "+e.Detail)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noRecommend, "no-recommend", false, "skip the recommendation run")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func newRecommendCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "recommend <id>",
		Short: "Run the recommendation engine on stored snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.format(cmd, format)
			if err != nil {
				return err
			}
			return a.withService(cmd, func(svc *service.Service) error {
				sum, err := svc.Recommend(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if f != reporter.FormatText {
					return reporter.WriteJSON(cmd.OutOrStdout(), sum)
				}
				writeSummary(cmd.OutOrStdout(), sum)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func writeSummary(w io.Writer, s advisor.Summary) {
	fmt.Fprintf(w, "recommendations: %d created, %d refreshed, %d skipped, %d suppressed\n",
		s.Created, s.Refreshed, s.Skipped, s.Suppressed)
}

func newRecommendationsCmd(a *app) *cobra.Command {
	var (
		instance string
		status   string
		limit    int
		format   string
		failOn   string
		basePath string
		update   bool
	)

	cmd := &cobra.Command{
		Use:   "recommendations",
		Short: "List recommendations ranked by score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.format(cmd, format)
			if err != nil {
				return err
			}
			if update && basePath == "" {
				return fmt.Errorf("--update-baseline requires --baseline")
			}
			return a.withService(cmd, func(svc *service.Service) error {
				recs, err := svc.Recommendations(cmd.Context(), store.RecommendationFilter{
					InstanceID: instance,
					Status:     model.Status(status),
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if basePath != "" {
					if update {
						if err := baseline.Save(basePath, recs); err != nil {
							return err
						}
						fmt.Fprintf(cmd.ErrOrStderr(), "baseline %s updated (%d recommendations)\n", basePath, len(recs))
						return nil
					}
					base, err := baseline.Load(basePath)
					if err != nil {
						return err
					}
					var known int
					recs, known = base.Filter(recs)
					if known > 0 {
						fmt.Fprintf(cmd.ErrOrStderr(), "%d baselined recommendations hidden\n", known)
					}
				}
				report := reporter.NewReport("recommendations", recs, a.build.Version)
				if err := reporter.Write(cmd.OutOrStdout(), &report, f); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				if failOn != "" && shouldFailOn(recs, failOn) {
					return &ExitError{Code: exitFailOn, Msg: "pending recommendations match --fail-on " + failOn}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&instance, "instance", "", "only this instance")
	cmd.Flags().StringVar(&status, "status", "", "pending, applied or dismissed")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of rows (0 = all)")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json, or sarif")
	cmd.Flags().StringVar(&failOn, "fail-on", "", "exit 2 if pending recommendations match (comma-separated types or confidence: high,medium)")
	cmd.Flags().StringVar(&basePath, "baseline", "", "hide recommendations recorded in this baseline file")
	cmd.Flags().BoolVar(&update, "update-baseline", false, "write the current recommendations to --baseline and exit")
	return cmd
}

// shouldFailOn reports whether a pending recommendation matches the
// criteria. Criteria are recommendation types or confidence levels; a
// confidence matches itself and anything stronger.
func shouldFailOn(recs []model.Recommendation, failOn string) bool {
	types := make(map[string]bool)
	minRank := 0
	for _, p := range strings.Split(failOn, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		switch c := model.Confidence(p); {
		case p == "":
		case c.Rank() > 0:
			if minRank == 0 || c.Rank() < minRank {
				minRank = c.Rank()
			}
		default:
			types[p] = true
		}
	}

	for _, r := range recs {
		if r.Status != model.StatusPending {
			continue
		}
		if types[string(r.Type)] || (minRank > 0 && r.Confidence.Rank() >= minRank) {
			return true
		}
	}
	return false
}

func newRecommendationCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recommendation",
		Short: "Record an operator decision on a recommendation",
	}
	cmd.AddCommand(
		newStatusCmd(a, "apply", model.StatusApplied),
		newStatusCmd(a, "dismiss", model.StatusDismissed),
	)
	return cmd
}

func newStatusCmd(a *app, use string, next model.Status) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: "Mark a pending recommendation " + string(next),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.format(cmd, format)
			if err != nil {
				return err
			}
			return a.withService(cmd, func(svc *service.Service) error {
				rec, err := svc.SetRecommendationStatus(cmd.Context(), args[0], next)
				if err != nil {
					return err
				}
				if f != reporter.FormatText {
					return reporter.WriteJSON(cmd.OutOrStdout(), rec)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recommendation %s %s\n", rec.ID, rec.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func newSnapshotsCmd(a *app) *cobra.Command {
	var (
		instance string
		top      int
		format   string
	)

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Show the latest snapshot of each instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.format(cmd, format)
			if err != nil {
				return err
			}
			if top < 0 {
				return fmt.Errorf("--top must not be negative")
			}
			return a.withService(cmd, func(svc *service.Service) error {
				snaps, err := svc.Snapshots(cmd.Context(), instance, top)
				if err != nil {
					return err
				}
				return reporter.WriteSnapshots(cmd.OutOrStdout(), snaps, f)
			})
		},
	}
	cmd.Flags().StringVar(&instance, "instance", "", "only this instance")
	cmd.Flags().IntVar(&top, "top", 20, "statements per snapshot (0 = all)")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func newSetupStatesCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "setup-states",
		Short: "Show the stored readiness of every checked instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.format(cmd, format)
			if err != nil {
				return err
			}
			return a.withService(cmd, func(svc *service.Service) error {
				states, err := svc.SetupStates(cmd.Context())
				if err != nil {
					return err
				}
				return reporter.WriteSetupStates(cmd.OutOrStdout(), states, f)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}
