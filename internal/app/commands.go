package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"findsanity/internal/domain"
	"findsanity/internal/scheduler"
	"findsanity/internal/storage/sqlite"

	"github.com/spf13/cobra"
)

var errNoJobs = errors.New("nothing to schedule: set flag_prune_schedule or usage_digest_schedule")

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "findsanity",
		Short:        "Journal safety, anonymization and comment moderation",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(anonymizeCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(moderateCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(unblockCmd())
	rootCmd.AddCommand(flagsCmd())
	rootCmd.AddCommand(usageCmd())
	rootCmd.AddCommand(serveCmd())
	return rootCmd
}

// withRuntime opens the runtime for one command and closes it afterwards.
func withRuntime(fn func(ctx context.Context, rt *runtime) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(cmd.Context(), rt)
	}
}

// readText joins args, or reads stdin when there are none or the only arg is "-".
func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return strings.TrimSpace(strings.Join(args, " ")), nil
}

func parseIntentFlag(s string) (domain.Intent, error) {
	if strings.TrimSpace(s) == "" {
		return domain.IntentProcessing, nil
	}
	intent, ok := domain.ParseIntent(s)
	if !ok {
		names := make([]string, len(domain.Intents))
		for i, in := range domain.Intents {
			names[i] = string(in)
		}
		return "", fmt.Errorf("unknown intent %q (want one of %s)", s, strings.Join(names, ", "))
	}
	return intent, nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func analyzeCmd() *cobra.Command {
	var userID, intent string
	var links []string

	cmd := &cobra.Command{
		Use:   "analyze [text|-]",
		Short: "Complete a journal entry: reflection, safety check and suggested post",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			in, err := parseIntentFlag(intent)
			if err != nil {
				return err
			}
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				rec, err := rt.journal().Complete(ctx, userID, domain.Entry{Text: text, Intent: in}, links)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"id":     rec.ID,
					"result": rec.Result,
				})
			})(cmd, args)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "author id")
	cmd.Flags().StringVarP(&intent, "intent", "i", "", "entry intent (default processing)")
	cmd.Flags().StringArrayVarP(&links, "link", "l", nil, "id of a previous entry to link (max 2)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func checkCmd() *cobra.Command {
	var userID, intent string

	cmd := &cobra.Command{
		Use:   "check [text|-]",
		Short: "Run only the public safety check on a piece of text",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			in, err := parseIntentFlag(intent)
			if err != nil {
				return err
			}
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				var historical []string
				if userID != "" {
					if historical, err = sqlite.GetUserTopics(ctx, rt.db, userID); err != nil {
						return err
					}
				}
				result, err := rt.safety().Evaluate(ctx, text, in, historical)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})(cmd, args)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "author id, used for topic reuse")
	cmd.Flags().StringVarP(&intent, "intent", "i", "", "entry intent (default processing)")
	return cmd
}

func anonymizeCmd() *cobra.Command {
	var intent string
	var topics []string

	cmd := &cobra.Command{
		Use:   "anonymize [text|-]",
		Short: "Draft an anonymized public post from text",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			in, err := parseIntentFlag(intent)
			if err != nil {
				return err
			}
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				draft, err := rt.anonymizer().Anonymize(ctx, text, in, topics)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), draft)
			})(cmd, args)
		},
	}

	cmd.Flags().StringVarP(&intent, "intent", "i", "", "entry intent (default processing)")
	cmd.Flags().StringSliceVarP(&topics, "topic", "t", nil, "topic hint")
	return cmd
}

func publishCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "publish [journal-id]",
		Short: "Publish the public post of a completed entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				post, err := rt.journal().Publish(ctx, userID, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Published post %s (%s): %s\n", post.ID, post.Source, post.Title)
				return nil
			})(cmd, args)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "author id")
	cmd.MarkFlagRequired("user")
	return cmd
}

func moderateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "moderate [text|-]",
		Short: "Show the moderation verdict for a comment without recording a strike",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				verdict, err := rt.moderator().Moderate(ctx, text)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), verdict)
			})(cmd, args)
		},
	}
}

func commentCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "comment [post-id] [text|-]",
		Short: "Comment on a post through the three-strike moderation gate",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args[1:])
			if err != nil {
				return err
			}
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				c, outcome, err := rt.journal().Comment(ctx, userID, args[0], text)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch {
				case outcome.Accepted:
					fmt.Fprintf(out, "Comment %s posted.\n", c.ID)
				case outcome.Blocked && outcome.ViolationCount == 0:
					fmt.Fprintf(out, "Comment refused: %s\n", outcome.Verdict.Reason)
				default:
					fmt.Fprintf(out, "Comment blocked (%s): %s\n", outcome.Verdict.Severity, outcome.Verdict.Reason)
					if outcome.Verdict.Suggestion != "" {
						fmt.Fprintf(out, "Suggestion: %s\n", outcome.Verdict.Suggestion)
					}
					fmt.Fprintf(out, "Violations: %d, strikes remaining: %d\n", outcome.ViolationCount, outcome.StrikesRemaining)
					if outcome.Blocked {
						fmt.Fprintln(out, "Commenting is now paused for this account.")
					}
				}
				return nil
			})(cmd, args)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "commenter id")
	cmd.MarkFlagRequired("user")
	return cmd
}

func unblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock [user-id]",
		Short: "Lift a comment block and clear the user's strikes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				existed, err := sqlite.UnblockUser(ctx, rt.db, args[0])
				if err != nil {
					return err
				}
				if !existed {
					fmt.Fprintf(cmd.OutOrStdout(), "User %s was not blocked.\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "User %s unblocked.\n", args[0])
				return nil
			})(cmd, args)
		},
	}
}

func flagsCmd() *cobra.Command {
	var days, limit int

	cmd := &cobra.Command{
		Use:   "flags",
		Short: "List recently blocked comments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				since := time.Now().AddDate(0, 0, -days)
				flags, err := sqlite.ListRecentFlags(ctx, rt.db, since, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(flags) == 0 {
					fmt.Fprintf(out, "No flagged comments in the last %d days.\n", days)
					return nil
				}
				for _, f := range flags {
					fmt.Fprintf(out, "%s  %-20s %-6s %s\n", f.CreatedAt.In(rt.cfg.Location).Format("2006-01-02 15:04"), f.UserID, f.Severity, f.Reason)
				}
				return nil
			})(cmd, args)
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 30, "look back this many days")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of flags to show")
	return cmd
}

func usageCmd() *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show API token usage and cost for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				start, end, err := parseRange(from, to, time.Now().In(rt.cfg.Location), rt.cfg.Location)
				if err != nil {
					return err
				}
				report, err := rt.tracker.Report(ctx, start, end)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), report.Format())
				return nil
			})(cmd, args)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD (default from)")
	return cmd
}

func parseRange(from, to string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	start := now
	if from != "" {
		t, err := time.ParseInLocation(time.DateOnly, from, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		start = t
	}
	end := start
	if to != "" {
		t, err := time.ParseInLocation(time.DateOnly, to, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		end = t
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return start, end, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the maintenance scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *runtime) error {
				var poster scheduler.Poster
				if rt.cfg.SlackConfigured() {
					poster = rt.notifier
				}
				jobs, err := scheduler.JobsFromConfig(rt.cfg, rt.db, rt.tracker, poster)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					return errNoJobs
				}
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				scheduler.NewRunner(rt.cfg.Location).Run(ctx, jobs...)
				return nil
			})(cmd, args)
		},
	}
}
