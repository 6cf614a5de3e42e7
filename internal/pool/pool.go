// Package pool implements the account-checkout scheduler: a FIFO of started
// Accounts handed out to callers under a deadline, with server-dictated
// flood-wait penalties parking an Account out of rotation instead of failing
// it permanently. It is the "~40% of the core" component named in spec.md
// §2, grounded on the original tg/account/collection.py.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leshchenko/tgpool/internal/account"
	"github.com/leshchenko/tgpool/internal/blobstore"
	"github.com/leshchenko/tgpool/internal/rpcclient"
)

// InvalidPolicy controls how Pool reacts to an Account whose stored session
// turns out to be unusable at startup.
type InvalidPolicy string

const (
	// PolicyIgnore logs the failure and continues without that Account.
	PolicyIgnore InvalidPolicy = "ignore"
	// PolicyRaise fails the whole StartSessions call on the first failure.
	PolicyRaise InvalidPolicy = "raise"
	// PolicyRevalidate drives a fresh interactive login for any Account
	// whose stored session is missing or rejected.
	PolicyRevalidate InvalidPolicy = "revalidate"
)

// DefaultMaxWait is the longest a checkout will block for an Account to
// become available before failing with AllAccountsUnavailableError, matching
// the original's MAX_ACC_WAITING_TIME (5 minutes).
const DefaultMaxWait = 5 * time.Minute

// ErrSessionsInUse is returned by Session when another session is already
// active for this Pool (the cross-process ".session_lock" blob exists).
var ErrSessionsInUse = errors.New("pool: sessions already in use")

// AccountStartFailedError reports which Account failed to start under
// PolicyRaise or PolicyRevalidate.
type AccountStartFailedError struct {
	Phone string
	Cause error
}

func (e *AccountStartFailedError) Error() string {
	return fmt.Sprintf("pool: account %s failed to start: %v", e.Phone, e.Cause)
}

func (e *AccountStartFailedError) Unwrap() error { return e.Cause }

// AllAccountsUnavailableError is returned by WithAccount when no Account
// became available before the checkout deadline. AvailableAt, when non-nil,
// is the earliest time any parked Account's flood wait is expected to clear.
type AllAccountsUnavailableError struct {
	AvailableAt *time.Time
}

func (e *AllAccountsUnavailableError) Error() string {
	if e.AvailableAt != nil {
		return fmt.Sprintf("pool: all accounts unavailable, next available at %s", e.AvailableAt.Format(time.RFC3339))
	}
	return "pool: all accounts unavailable"
}

// Progress is the checkout-side progress indicator, satisfied by a CLI
// progress bar or left nil for unattended runs.
type Progress interface {
	SetPostfix(s string)
}

// Observer receives checkout instrumentation events; internal/metrics.Registry
// satisfies this structurally, so pool does not import metrics (which already
// imports pool for Status sampling). A nil Observer is fine — every call site
// checks p.observer first.
type Observer interface {
	// ObserveCheckoutWait reports how long a successful WithAccount checkout
	// waited for an Account to become available.
	ObserveCheckoutWait(seconds float64)
	// IncCheckoutFailure reports a checkout that hit maxWait with no Account
	// available.
	IncCheckoutFailure()
	// IncFloodWait reports an Account being parked on a server flood wait.
	IncFloodWait()
}

// Pool owns a fixed set of Accounts and schedules checkout against them. One
// Pool serves at most one active Session at a time.
type Pool struct {
	store      blobstore.Store
	policy     InvalidPolicy
	maxWait    time.Duration
	codeFn     account.CodeFunc
	passwordFn account.PasswordFunc

	accounts map[string]*account.Account

	mu        sync.Mutex // guards available/pbar/observer for the lifetime of one Session
	available chan *account.Account
	pbar      Progress
	observer  Observer
}

// Options configures optional Pool behavior; the zero value is usable
// (DefaultMaxWait, no interactive login).
type Options struct {
	MaxWait time.Duration
	// CodeFn and PasswordFn drive interactive (re)authentication under
	// PolicyRevalidate. Leaving them nil is fine for a Pool whose Accounts
	// always have a valid stored session.
	CodeFn     account.CodeFunc
	PasswordFn account.PasswordFunc
	// Observer, when set, receives checkout instrumentation events. Left nil
	// this is a no-op; SetObserver can also set it after construction, for
	// callers (like cmd/api) that build their metrics registry later than
	// their Pool.
	Observer Observer
}

// New constructs a Pool over accounts (keyed by phone number, matching
// spec.md §3's AccountCollection). policy must be one of PolicyIgnore,
// PolicyRaise or PolicyRevalidate.
func New(accounts map[string]*account.Account, store blobstore.Store, policy InvalidPolicy, opts Options) (*Pool, error) {
	switch policy {
	case PolicyIgnore, PolicyRaise, PolicyRevalidate:
	default:
		return nil, fmt.Errorf("pool: invalid policy %q", policy)
	}
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Pool{
		store:      store,
		policy:     policy,
		maxWait:    maxWait,
		codeFn:     opts.CodeFn,
		passwordFn: opts.PasswordFn,
		accounts:   accounts,
		observer:   opts.Observer,
	}, nil
}

// SetObserver installs or replaces the Pool's Observer. Safe to call whether
// or not a Session is active, and safe with a nil o (equivalent to not
// observing at all).
func (p *Pool) SetObserver(o Observer) {
	p.mu.Lock()
	p.observer = o
	p.mu.Unlock()
}

// Session is the scoped acquisition for the whole Pool: it takes the
// cross-process session lock, starts every Account, runs fn with checkout
// available, and unconditionally releases the lock and stops every Account
// on the way out — mirroring the original's AccountCollection.session().
func (p *Pool) Session(ctx context.Context, pbar Progress, fn func(ctx context.Context) error) error {
	locked, err := p.store.Exists(ctx, blobstore.SessionLockKey)
	if err != nil {
		return fmt.Errorf("pool: checking session lock: %w", err)
	}
	if locked {
		return ErrSessionsInUse
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	p.pbar = pbar
	p.available = make(chan *account.Account, len(p.accounts))
	p.mu.Unlock()

	// Deferred in reverse of the desired teardown order (rm lock, then stop
	// every Account, then clear checkout state), since defers run LIFO.
	defer func() {
		p.mu.Lock()
		p.available = nil
		p.pbar = nil
		p.mu.Unlock()
	}()
	defer func() {
		if err := p.closeSessions(context.Background()); err != nil {
			slog.Error("pool: error closing sessions", "error", err)
		}
	}()
	defer func() {
		if err := p.store.Remove(context.Background(), blobstore.SessionLockKey); err != nil {
			slog.Error("pool: error removing session lock", "error", err)
		}
	}()

	if err := p.startSessions(sessionCtx); err != nil {
		return err
	}

	if err := p.store.Touch(ctx, blobstore.SessionLockKey); err != nil {
		return fmt.Errorf("pool: touching session lock: %w", err)
	}

	return fn(sessionCtx)
}

// startSessions starts every Account concurrently. Under PolicyIgnore every
// start is awaited regardless of failure and failures are only logged. Under
// PolicyRaise/PolicyRevalidate, the first failure cancels ctx so the
// remaining in-flight starts unwind promptly instead of running to their
// natural (possibly much later) completion, then StartSessions fails with
// that first AccountStartFailedError — a deliberate cleanup of the original's
// behavior of leaving the other starts to complete in the background with
// their outcome discarded (see DESIGN.md).
func (p *Pool) startSessions(ctx context.Context) error {
	type result struct {
		phone string
		err   error
	}

	innerCtx := ctx
	var cancel context.CancelFunc
	if p.policy != PolicyIgnore {
		innerCtx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	revalidate := p.policy == PolicyRevalidate
	results := make(chan result, len(p.accounts))
	for phone, acc := range p.accounts {
		go func(phone string, acc *account.Account) {
			err := acc.Start(innerCtx, revalidate, p.codeFn, p.passwordFn)
			results <- result{phone: phone, err: err}
		}(phone, acc)
	}

	var firstErr *AccountStartFailedError
	for i := 0; i < len(p.accounts); i++ {
		r := <-results
		if r.err == nil {
			continue
		}
		if p.policy == PolicyIgnore {
			slog.Warn("pool: account failed to start, ignoring", "phone", r.phone, "error", r.err)
			continue
		}
		if firstErr == nil {
			firstErr = &AccountStartFailedError{Phone: r.phone, Cause: r.err}
			cancel()
		}
	}

	p.setupAvailableQueue()

	if firstErr != nil {
		return firstErr
	}
	return nil
}

// setupAvailableQueue enqueues every started Account. If zero Accounts
// started, the queue is left empty and the next checkout simply times out —
// the postcondition "at least one Account started" is enforced by the
// caller's choice of policy, not by Pool itself.
func (p *Pool) setupAvailableQueue() {
	started := 0
	for _, acc := range p.accounts {
		if acc.Started() {
			p.available <- acc
			started++
		}
	}
	slog.Info("pool: sessions started", "count", started, "total", len(p.accounts))
}

// closeSessions stops every started Account in parallel and drops the
// checkout queue.
func (p *Pool) closeSessions(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(p.accounts))

	for _, acc := range p.accounts {
		if !acc.Started() {
			continue
		}
		wg.Add(1)
		go func(acc *account.Account) {
			defer wg.Done()
			if err := acc.Stop(ctx); err != nil {
				errs <- err
			}
		}(acc)
	}
	wg.Wait()
	close(errs)

	var firstErr error
	for err := range errs {
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WithAccount checks out one Account, runs fn with it, and checks the
// Account back in — unless fn fails with a FloodWaitError, in which case the
// Account is parked for the server-dictated duration instead of being
// re-enqueued. The FloodWaitError is still returned to the caller (a
// deliberate divergence from the original, whose equivalent context manager
// silently swallows it — see DESIGN.md): the pool's own bookkeeping is
// unaffected either way, but Go callers get an explicit, inspectable error
// rather than an operation that silently produced no result.
func (p *Pool) WithAccount(ctx context.Context, fn func(ctx context.Context, acc *account.Account) error) error {
	p.mu.Lock()
	avail := p.available
	observer := p.observer
	p.mu.Unlock()
	if avail == nil {
		return fmt.Errorf("pool: no active session")
	}

	waitStart := time.Now()
	timer := time.NewTimer(p.maxWait)
	defer timer.Stop()

	var acc *account.Account
	select {
	case acc = <-avail:
		if observer != nil {
			observer.ObserveCheckoutWait(time.Since(waitStart).Seconds())
		}
	case <-timer.C:
		if observer != nil {
			observer.IncCheckoutFailure()
		}
		return p.allAccountsUnavailableError()
	case <-ctx.Done():
		return ctx.Err()
	}

	err := fn(ctx, acc)

	var floodErr *rpcclient.FloodWaitError
	if errors.As(err, &floodErr) {
		p.parkAccount(avail, acc, time.Duration(floodErr.Seconds)*time.Second)
		return err
	}

	avail <- acc
	return err
}

// Status is a point-in-time snapshot of the pool's checkout state, surfaced
// on the health endpoint.
type Status struct {
	TotalAccounts     int
	StartedAccounts   int
	AvailableAccounts int
	ParkedAccounts    int
	SessionActive     bool
}

// Status reports the pool's current state without blocking any in-flight
// checkout.
func (p *Pool) Status() Status {
	p.mu.Lock()
	avail := p.available
	p.mu.Unlock()

	st := Status{TotalAccounts: len(p.accounts), SessionActive: avail != nil}
	if avail != nil {
		st.AvailableAccounts = len(avail)
	}
	now := time.Now()
	for _, acc := range p.accounts {
		if !acc.Started() {
			continue
		}
		st.StartedAccounts++
		if from, _ := acc.FloodWait(); from != nil && !acc.Available(now) {
			st.ParkedAccounts++
		}
	}
	return st
}

func (p *Pool) allAccountsUnavailableError() *AllAccountsUnavailableError {
	wait := p.minWait(time.Now())
	if wait == nil || *wait <= 0 {
		return &AllAccountsUnavailableError{}
	}
	at := time.Now().Add(*wait)
	return &AllAccountsUnavailableError{AvailableAt: &at}
}

// minWait returns the shortest remaining flood-wait among currently parked
// Accounts, or nil if none are parked.
func (p *Pool) minWait(now time.Time) *time.Duration {
	var min *time.Duration
	for _, acc := range p.accounts {
		from, timeout := acc.FloodWait()
		if from == nil {
			continue
		}
		remaining := timeout - now.Sub(*from)
		if min == nil || remaining < *min {
			r := remaining
			min = &r
		}
	}
	return min
}

// parkAccount records acc's flood-wait window and spawns a timer that
// re-enqueues it onto avail once the window elapses. avail is the queue
// captured at checkout time rather than p.available, so a Session ending
// while a park is outstanding cannot race a concurrent new Session's queue
// (the buffered send below always succeeds even if nobody is left to drain
// it).
func (p *Pool) parkAccount(avail chan *account.Account, acc *account.Account, d time.Duration) {
	from := time.Now()
	acc.SetFloodWait(&from, d)
	slog.Warn("pool: account parked on flood wait", "phone", acc.Phone, "seconds", d.Seconds())

	p.mu.Lock()
	pbar := p.pbar
	observer := p.observer
	p.mu.Unlock()
	if pbar != nil {
		pbar.SetPostfix(fmt.Sprintf("%s: flood wait %s", acc, d))
	}
	if observer != nil {
		observer.IncFloodWait()
	}

	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		<-timer.C

		acc.SetFloodWait(nil, 0)
		slog.Info("pool: flood wait cleared", "phone", acc.Phone)

		p.mu.Lock()
		current := p.pbar
		p.mu.Unlock()
		if current != nil {
			current.SetPostfix("")
		}

		avail <- acc
	}()
}
