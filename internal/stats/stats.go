// Package stats implements the channel-scan fan-out driver, grounded on
// tg/stats/stats_collector.py: stream each channel's recent history, tally
// engagement per message, count each message's discussion replies, and
// aggregate into the per-channel and per-message tables the stats store
// persists.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leshchenko/tgpool/internal/rpcclient"
	"github.com/leshchenko/tgpool/internal/scanner"
	"github.com/leshchenko/tgpool/internal/workers"
)

// shortenLength is the character budget for Msg.Text, matching the
// original's shorten(text, max_length=200).
const shortenLength = 200

// Msg is one collected message record, grounded on stats_collector.py's Msg
// namedtuple.
type Msg struct {
	Username string
	Link     string
	Reach    int
	Likes    int
	Replies  int
	Forwards int
	Datetime time.Time
	Text     string
	FullText string
}

// Channel is one collected channel record, grounded on stats_collector.py's
// Channel namedtuple. Reach is the mean of the channel's own messages' Reach
// in the same collection run — filled in by CollectAllStats after every
// message is in hand, matching collect_stats_to_single_df's groupby-mean
// merge — so it is 0 on a Channel returned directly from
// CollectChannelStats.
type Channel struct {
	Username    string
	Subscribers int
	Reach       int
}

// Progress reports per-channel scan progress; nil is fine for unattended
// runs.
type Progress interface {
	SetPostfix(s string)
	Increment()
}

// Collector drives channel scans over a Scanner.
type Collector struct {
	scanner *scanner.Scanner
	pool    *workers.Pool

	// MinDate and Depth are alternatives: set at most one. Neither is
	// validated; when both are set, Depth wins. Depth, when set, is resolved
	// to a MinDate at collection time (now - Depth, UTC).
	MinDate time.Time
	Depth   time.Duration
}

// New constructs a Collector scanning through s, fanning the per-message
// reply-count lookups in CollectMsgStats out through workerPool. Channel-level
// parallel scanning (parallelScan) deliberately does not use workerPool — see
// its doc comment — so workerPool sizing only needs to account for the
// message-level fan-out.
func New(s *scanner.Scanner, workerPool *workers.Pool) *Collector {
	return &Collector{scanner: s, pool: workerPool}
}

// Store is the persistence surface CollectAndSave writes through — the
// subset of statsdb.Store's methods needed here, kept narrow and local to
// avoid stats depending on the statsdb package (statsdb already depends on
// stats for the Msg/Channel types it persists).
type Store interface {
	SaveNewStats(ctx context.Context, channels []Channel) error
	SaveMsgs(ctx context.Context, msgs []Msg) error
}

// CollectAndSave runs CollectAllStats and writes the result to store,
// matching the original's collect_and_save.
func (c *Collector) CollectAndSave(ctx context.Context, channels []string, parallel bool, pbar Progress, store Store) error {
	result, err := c.CollectAllStats(ctx, channels, parallel, pbar)
	if err != nil {
		return err
	}
	if err := store.SaveNewStats(ctx, result.Channels); err != nil {
		return fmt.Errorf("stats: saving channel stats: %w", err)
	}
	if err := store.SaveMsgs(ctx, result.Msgs); err != nil {
		return fmt.Errorf("stats: saving messages: %w", err)
	}
	return nil
}

func (c *Collector) minDate() time.Time {
	if c.Depth > 0 {
		return time.Now().UTC().Add(-c.Depth)
	}
	return c.MinDate
}

// shorten returns the first shortenLength characters of text, with a
// trailing ellipsis if it was truncated.
func shorten(text string) string {
	runes := []rune(text)
	if len(runes) <= shortenLength {
		return text
	}
	return string(runes[:shortenLength]) + "…"
}

func messageLink(channel string, msgID int) string {
	return fmt.Sprintf("https://t.me/%s/%d", strings.TrimPrefix(channel, "@"), msgID)
}

func likesFromReactions(reactions []rpcclient.Reaction) int {
	total := 0
	for _, r := range reactions {
		total += r.Count
	}
	return total
}

// CollectMsgStats streams channel's recent history and, for each message,
// fans out a concurrent GetDiscussionRepliesCount call, invoking visit as
// each reply count resolves (not in original stream order — the original
// yields via asyncio.as_completed, and so does this). A message whose reply
// count lookup fails is yielded with Replies=0, matching the original's
// broad except around add_replies.
func (c *Collector) CollectMsgStats(ctx context.Context, channel string, visit func(Msg) error) error {
	type pending struct {
		msg rpcclient.Message
	}

	var msgs []pending
	err := c.scanner.GetChatHistory(ctx, channel, 0, c.minDate(), func(m rpcclient.Message) error {
		msgs = append(msgs, pending{msg: m})
		return nil
	})
	if err != nil {
		return fmt.Errorf("stats: collecting history for %s: %w", channel, err)
	}

	results := make(chan Msg, len(msgs))
	var wg sync.WaitGroup
	for _, p := range msgs {
		p := p
		wg.Add(1)
		submit := func() {
			defer wg.Done()
			replies, err := c.scanner.GetDiscussionRepliesCount(ctx, channel, p.msg.ID)
			if err != nil {
				slog.Warn("stats: reply count failed, recording 0", "channel", channel, "msg_id", p.msg.ID, "error", err)
				replies = 0
			}
			fullText := p.msg.Text
			if fullText == "" {
				fullText = p.msg.RawText
			}
			results <- Msg{
				Username: channel,
				Link:     messageLink(channel, p.msg.ID),
				Reach:    p.msg.Views,
				Likes:    likesFromReactions(p.msg.Reactions),
				Replies:  replies,
				Forwards: p.msg.Forwards,
				Datetime: p.msg.Date,
				Text:     shorten(fullText),
				FullText: fullText,
			}
		}
		if c.pool != nil {
			c.pool.Submit(submit)
		} else {
			go submit()
		}
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for msg := range results {
		if err := visit(msg); err != nil {
			return err
		}
	}
	return nil
}

// CollectChannelStats resolves channel's current subscriber count.
func (c *Collector) CollectChannelStats(ctx context.Context, channel string) (Channel, error) {
	count, err := c.scanner.GetChatMembersCount(ctx, channel)
	if err != nil {
		return Channel{}, fmt.Errorf("stats: counting subscribers for %s: %w", channel, err)
	}
	return Channel{Username: channel, Subscribers: count}, nil
}

// Result is the full output of one CollectAllStats call.
type Result struct {
	Channels []Channel
	Msgs     []Msg
}

// CalcMsgPopularity computes (likes+replies+forwards)/reach for msg,
// returning 0 when reach is 0 to avoid a division by zero (the original lets
// pandas produce inf/NaN here and relies on a later fillna(0); this port
// short-circuits to the same effective result).
func CalcMsgPopularity(msg Msg) float64 {
	if msg.Reach == 0 {
		return 0
	}
	return float64(msg.Likes+msg.Replies+msg.Forwards) / float64(msg.Reach)
}

// CollectAllStats scans every channel in channels and returns the combined
// result. It runs sequentially (reporting pbar progress per channel) when
// parallel is false, or scans every channel concurrently on its own
// goroutine (see parallelScan) when true, matching the original's sequential_scan/
// parallel_scan split.
func (c *Collector) CollectAllStats(ctx context.Context, channels []string, parallel bool, pbar Progress) (Result, error) {
	var result Result
	var err error
	if !parallel {
		result, err = c.sequentialScan(ctx, channels, pbar)
	} else {
		result, err = c.parallelScan(ctx, channels)
	}
	if err != nil {
		return Result{}, err
	}
	applyMeanReach(result.Channels, result.Msgs)
	return result, nil
}

// applyMeanReach fills in each Channel's Reach as the mean Reach of its own
// messages in msgs, matching collect_stats_to_single_df's groupby-mean
// merge. A channel with no collected messages keeps Reach=0.
func applyMeanReach(channels []Channel, msgs []Msg) {
	sums := make(map[string]int, len(channels))
	counts := make(map[string]int, len(channels))
	for _, m := range msgs {
		sums[m.Username] += m.Reach
		counts[m.Username]++
	}
	for i := range channels {
		n := counts[channels[i].Username]
		if n == 0 {
			continue
		}
		channels[i].Reach = sums[channels[i].Username] / n
	}
}

func (c *Collector) sequentialScan(ctx context.Context, channels []string, pbar Progress) (Result, error) {
	var result Result
	for _, channel := range channels {
		if pbar != nil {
			pbar.SetPostfix(channel)
		}
		if err := c.CollectMsgStats(ctx, channel, func(m Msg) error {
			result.Msgs = append(result.Msgs, m)
			return nil
		}); err != nil {
			return Result{}, err
		}
		chanStats, err := c.CollectChannelStats(ctx, channel)
		if err != nil {
			return Result{}, err
		}
		result.Channels = append(result.Channels, chanStats)
		if pbar != nil {
			pbar.Increment()
		}
	}
	return result, nil
}

// parallelScan runs every channel's scan concurrently on its own goroutine
// rather than submitting it to c.pool: CollectMsgStats below submits its
// per-message reply-count lookups to that same bounded pool and blocks on
// them completing, so submitting the outer per-channel work to it too would
// let enough parallel channels (>= the pool's MaxWorkers) occupy every
// worker in wg.Wait(), starving the per-message tasks they are waiting on
// and wedging the scan permanently. The bounded pool is reserved for the
// message-level fan-out; the channel level fans out unbounded, matching the
// original's asyncio.gather over channels.
func (c *Collector) parallelScan(ctx context.Context, channels []string) (Result, error) {
	type outcome struct {
		msgs    []Msg
		channel Channel
		err     error
	}

	outcomes := make([]outcome, len(channels))
	var wg sync.WaitGroup
	for i, channel := range channels {
		i, channel := i, channel
		wg.Add(1)
		go func() {
			defer wg.Done()
			var msgs []Msg
			if err := c.CollectMsgStats(ctx, channel, func(m Msg) error {
				msgs = append(msgs, m)
				return nil
			}); err != nil {
				outcomes[i] = outcome{err: err}
				return
			}
			chanStats, err := c.CollectChannelStats(ctx, channel)
			if err != nil {
				outcomes[i] = outcome{err: err}
				return
			}
			outcomes[i] = outcome{msgs: msgs, channel: chanStats}
		}()
	}
	wg.Wait()

	var result Result
	for _, o := range outcomes {
		if o.err != nil {
			return Result{}, o.err
		}
		result.Msgs = append(result.Msgs, o.msgs...)
		result.Channels = append(result.Channels, o.channel)
	}
	return result, nil
}
