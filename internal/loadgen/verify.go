package loadgen

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"github.com/okian/topkboard/pkg/logger"
)

// Verify checks the leaderboard against the expected per-user sums: ranks
// are positional, scores never increase down the board, every listed user
// holds exactly its expected sum, the board carries the highest expected
// scores, and /rank agrees with the board.
func Verify(ctx context.Context, config Config, client *HTTPClient, expected map[string]int64, stats *Stats) (Board, error) {
	config = config.withDefaults()
	log := logger.Named("loadgen")

	var board Board
	if err := client.getJSON(ctx, "/leaderboard?limit="+strconv.Itoa(config.TopN), &board); err != nil {
		return Board{}, fmt.Errorf("failed to fetch leaderboard: %w", err)
	}
	stats.LeaderboardEntries = len(board.Entries)
	stats.LeaderboardVersion = board.Version

	var problems []error
	foreign := 0
	for i, e := range board.Entries {
		if e.Rank != i+1 {
			problems = append(problems, fmt.Errorf("entry %d has rank %d", i, e.Rank))
		}
		if i > 0 && e.Score > board.Entries[i-1].Score {
			problems = append(problems, fmt.Errorf("entry %d (%d) outranks entry %d (%d)", i, e.Score, i-1, board.Entries[i-1].Score))
		}
		want, ok := expected[e.UserID]
		if !ok {
			foreign++
			continue
		}
		if e.Score != want {
			problems = append(problems, fmt.Errorf("user %s has score %d, want %d", e.UserID, e.Score, want))
		}
	}

	// Users not generated by this run make the expected top unknowable.
	if foreign == 0 {
		top := make([]int64, 0, len(expected))
		for _, s := range expected {
			top = append(top, s)
		}
		slices.SortFunc(top, func(a, b int64) int { return cmp.Compare(b, a) })
		if len(top) > 0 && len(board.Entries) == 0 {
			problems = append(problems, errors.New("leaderboard is empty"))
		}
		if len(top) > len(board.Entries) {
			top = top[:len(board.Entries)]
		}
		for i := range top {
			if board.Entries[i].Score != top[i] {
				problems = append(problems, fmt.Errorf("position %d holds score %d, want %d", i+1, board.Entries[i].Score, top[i]))
			}
		}
	} else {
		log.Warn(ctx, "leaderboard holds users from outside this run", logger.Int("foreign", foreign))
	}

	for _, e := range board.Entries {
		var got Entry
		if err := client.getJSON(ctx, "/rank/"+url.PathEscape(e.UserID), &got); err != nil {
			problems = append(problems, fmt.Errorf("rank %s: %w", e.UserID, err))
			continue
		}
		if got != e {
			problems = append(problems, fmt.Errorf("rank %s = %+v, board says %+v", e.UserID, got, e))
		}
	}

	if config.Verbose {
		for _, e := range board.Entries {
			log.Info(ctx, "leaderboard entry",
				logger.Int("rank", e.Rank),
				logger.String("user", e.UserID),
				logger.Int64("score", e.Score))
		}
	}

	if len(problems) > 0 {
		return board, fmt.Errorf("%w: %w", ErrVerification, errors.Join(problems...))
	}
	log.Info(ctx, "leaderboard verified",
		logger.Uint64("version", board.Version),
		logger.Int("entries", len(board.Entries)))
	return board, nil
}
