// Package scanner implements the read-only chat operations exposed on top of
// the Pool, grounded on tg/account/scanner.py: resolve a chat, count its
// members, stream its history, and stream or count a discussion thread's
// replies.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leshchenko/tgpool/internal/account"
	"github.com/leshchenko/tgpool/internal/chatcache"
	"github.com/leshchenko/tgpool/internal/pool"
	"github.com/leshchenko/tgpool/internal/rpcclient"
)

// discussionReplyScanLimit bounds get_discussion_replies_count's iteration,
// matching the original's hardcoded limit of 1000.
const discussionReplyScanLimit = 1000

// Scanner is a Pool plus the persistent chat-metadata cache layered on top
// of it.
type Scanner struct {
	pool  *pool.Pool
	cache *chatcache.Cache
}

// New wraps p with the caller-supplied cache; callers construct the cache
// over the same blob store p's Accounts use for their sessions.
func New(p *pool.Pool, cache *chatcache.Cache) *Scanner {
	return &Scanner{pool: p, cache: cache}
}

// Session loads the chat cache, runs the Pool's session scope, and — on
// every exit path — saves the cache back, mirroring the original Scanner's
// override of AccountCollection.session().
func (s *Scanner) Session(ctx context.Context, pbar pool.Progress, fn func(ctx context.Context) error) error {
	if err := s.cache.Load(ctx); err != nil {
		return fmt.Errorf("scanner: loading chat cache: %w", err)
	}
	return s.pool.Session(ctx, pbar, func(ctx context.Context) error {
		defer func() {
			if err := s.cache.Save(context.Background()); err != nil {
				// Logged here rather than returned: Session still returns
				// fn's result, so a cache-save failure does not mask a
				// successful scan.
				slog.Error("scanner: saving chat cache", "error", err)
			}
		}()
		return fn(ctx)
	})
}

// GetChat resolves chatID to its platform entity, serving from the cache
// when present and populating it on a miss.
func (s *Scanner) GetChat(ctx context.Context, chatID string) (rpcclient.Entity, error) {
	if item, ok := s.cache.Get(chatID); ok {
		return item.Entity(), nil
	}

	var entity rpcclient.Entity
	err := s.pool.WithAccount(ctx, func(ctx context.Context, acc *account.Account) error {
		var err error
		entity, err = acc.Client().GetEntity(ctx, chatID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("scanner: resolving chat %s: %w", chatID, err)
	}

	s.cache.Set(chatID, chatcache.ItemFromEntity(entity))
	return entity, nil
}

// GetChatMembersCount dispatches on entity type: channel-like entities use
// the "full channel" request, group-like entities the "full chat" request,
// anything else returns 0. A non-zero result is cached on the chat's Item.
func (s *Scanner) GetChatMembersCount(ctx context.Context, chatID string) (int, error) {
	entity, err := s.GetChat(ctx, chatID)
	if err != nil {
		return 0, err
	}

	if item, ok := s.cache.Get(chatID); ok && item.MembersCount != nil {
		return *item.MembersCount, nil
	}

	var count int
	err = s.pool.WithAccount(ctx, func(ctx context.Context, acc *account.Account) error {
		client := acc.Client()
		var full rpcclient.FullChat
		var err error
		switch entity.Kind() {
		case rpcclient.EntityChannel:
			full, err = client.GetFullChannel(ctx, entity)
		case rpcclient.EntityChat:
			full, err = client.GetFullChat(ctx, entity)
		default:
			return nil
		}
		if err != nil {
			return err
		}
		count = full.ParticipantsCount
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanner: counting members of %s: %w", chatID, err)
	}

	if count != 0 {
		if item, ok := s.cache.Get(chatID); ok {
			item.MembersCount = &count
			s.cache.Set(chatID, item)
		}
	}
	return count, nil
}

// HistoryMessage is one message yielded by GetChatHistory/GetDiscussionReplies,
// as the RPC client returned it (dates are passed through unconverted).
type HistoryMessage = rpcclient.Message

// GetChatHistory streams chatID's message history newest-first, serving the
// entire stream from a single checked-out Account. It terminates when the
// RPC iterator ends, when limit messages have been yielded (limit<=0 means
// unbounded), or when a message's date is strictly older than minDate. visit
// is called once per message in order; returning an error from visit stops
// the stream and is propagated.
func (s *Scanner) GetChatHistory(ctx context.Context, chatID string, limit int, minDate time.Time, visit func(rpcclient.Message) error) error {
	entity, err := s.GetChat(ctx, chatID)
	if err != nil {
		return err
	}

	return s.pool.WithAccount(ctx, func(ctx context.Context, acc *account.Account) error {
		it, err := acc.Client().IterMessages(ctx, entity, rpcclient.IterMessagesOptions{Limit: limit})
		if err != nil {
			return fmt.Errorf("scanner: iterating history of %s: %w", chatID, err)
		}
		defer it.Close()

		count := 0
		for {
			if limit > 0 && count >= limit {
				return nil
			}
			msg, ok, err := it.Next(ctx)
			if err != nil {
				return fmt.Errorf("scanner: reading history of %s: %w", chatID, err)
			}
			if !ok {
				return nil
			}
			if !minDate.IsZero() && msg.Date.UTC().Before(minDate.UTC()) {
				return nil
			}
			if err := visit(msg); err != nil {
				return err
			}
			count++
		}
	})
}

// discussionErrorIsEmpty reports whether err is one of the "no such
// message/chat" server errors that both discussion-reply operations treat
// as an empty result rather than a failure.
func discussionErrorIsEmpty(err error) bool {
	return errors.Is(err, rpcclient.ErrMsgIDInvalid) || errors.Is(err, rpcclient.ErrPeerIDInvalid)
}

// GetDiscussionReplies streams the replies to msgID in chatID, newest-first,
// up to limit messages (limit<=0 means unbounded). "Invalid message id" and
// "invalid peer id" responses from the server are treated as an empty
// sequence rather than an error, matching the original's broad except
// clause; any other failure is returned as-is.
func (s *Scanner) GetDiscussionReplies(ctx context.Context, chatID string, msgID int, limit int, visit func(rpcclient.Message) error) error {
	if msgID <= 0 || chatID == "" {
		return nil
	}

	entity, err := s.GetChat(ctx, chatID)
	if err != nil {
		return err
	}

	err = s.pool.WithAccount(ctx, func(ctx context.Context, acc *account.Account) error {
		it, err := acc.Client().IterMessages(ctx, entity, rpcclient.IterMessagesOptions{Limit: limit, ReplyTo: msgID})
		if err != nil {
			return err
		}
		defer it.Close()

		count := 0
		for {
			if limit > 0 && count >= limit {
				return nil
			}
			msg, ok, err := it.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := visit(msg); err != nil {
				return err
			}
			count++
		}
	})
	if err != nil && !discussionErrorIsEmpty(err) {
		return fmt.Errorf("scanner: streaming replies to %s/%d: %w", chatID, msgID, err)
	}
	return nil
}

// GetDiscussionRepliesCount is GetDiscussionReplies but returns a count
// rather than streaming, capped at discussionReplyScanLimit.
func (s *Scanner) GetDiscussionRepliesCount(ctx context.Context, chatID string, msgID int) (int, error) {
	if msgID <= 0 || chatID == "" {
		return 0, nil
	}

	count := 0
	err := s.GetDiscussionReplies(ctx, chatID, msgID, discussionReplyScanLimit, func(rpcclient.Message) error {
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
