package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/spf13/cobra"

	"github.com/example/answer-engagement/services/engagement/internal/client"
	"github.com/example/answer-engagement/services/engagement/internal/domain"
)

func parseAnswerID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid answer id %q", raw)
	}
	return id, nil
}

// runAction mounts answerID the way a page would (hints, then the viewer's
// bulk read), applies act, waits for it to settle and prints the result.
func runAction(cmd *cobra.Command, opts *RootOptions, answerID int64, act func(context.Context, *client.Runner) error) error {
	ctx := cmd.Context()
	b := opts.backend()

	var (
		mu        sync.Mutex
		actionErr error
	)
	r := client.NewRunner(b, client.Options{
		ViewerID: opts.Profile,
		OnError: func(_ int64, err error) {
			mu.Lock()
			actionErr = err
			mu.Unlock()
		},
		Logger: opts.logger(),
	})

	hint, err := b.GetAnswer(ctx, answerID, opts.Profile)
	if err != nil {
		return fmt.Errorf("load answer %d: %w", answerID, err)
	}
	r.Mount(answerID, hint)
	if err := r.Hydrate(ctx, []int64{answerID}); err != nil {
		return err
	}

	if err := act(ctx, r); err != nil {
		if errors.Is(err, client.ErrLoginRequired) {
			return fmt.Errorf("%w: pass --profile or set ENGAGEMENT_PROFILE", err)
		}
		return err
	}
	r.Wait()

	mu.Lock()
	defer mu.Unlock()
	if actionErr != nil {
		return fmt.Errorf("answer %d: %w", answerID, actionErr)
	}
	s, _ := r.State(answerID)
	return write(cmd.OutOrStdout(), opts.Format, viewOf(answerID, s))
}

func NewVoteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "vote <answer-id> <level>",
		Short: "Vote 1-3 on an answer; voting your current level removes the vote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAnswerID(args[0])
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(args[1])
			if err != nil || !domain.Level(n).Valid() {
				return fmt.Errorf("invalid level %q: must be 1, 2 or 3", args[1])
			}
			return runAction(cmd, opts, id, func(ctx context.Context, r *client.Runner) error {
				return r.Vote(ctx, id, domain.Level(n))
			})
		},
	}
}

func NewFavoriteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "favorite <answer-id>",
		Short: "Toggle the favorite flag on an answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAnswerID(args[0])
			if err != nil {
				return err
			}
			return runAction(cmd, opts, id, func(ctx context.Context, r *client.Runner) error {
				return r.ToggleFavorite(ctx, id)
			})
		},
	}
}

func NewUserDataCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "user-data <answer-id>...",
		Short: "Show the profile's votes and favorites for a set of answers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := parseAnswerID(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			if opts.Profile == "" {
				return fmt.Errorf("%w: pass --profile or set ENGAGEMENT_PROFILE", client.ErrLoginRequired)
			}
			data, err := opts.backend().UserAnswerData(cmd.Context(), opts.Profile, ids)
			if err != nil {
				return err
			}
			return write(cmd.OutOrStdout(), opts.Format, userDataView(data))
		},
	}
}

func NewAnswerCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "answer <answer-id>",
		Short: "Show an answer's tally and, with --profile, your vote and favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAnswerID(args[0])
			if err != nil {
				return err
			}
			a, err := opts.backend().GetAnswer(cmd.Context(), id, opts.Profile)
			if err != nil {
				return err
			}
			return write(cmd.OutOrStdout(), opts.Format, viewOf(id, client.StateFromAnswer(a, opts.Profile)))
		},
	}
}
