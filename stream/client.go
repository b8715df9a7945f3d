// Package stream maintains a local, eventually-consistent mirror of a
// remote relay collection over REST snapshots and a server-sent event
// stream, with reconnect backoff and a polling fallback for hostile
// networks.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Mode is the connection state of a Client.
type Mode string

const (
	ModeDisconnected Mode = "disconnected"
	ModeConnecting   Mode = "connecting"
	ModeLive         Mode = "live"
	ModeRetrying     Mode = "retrying"
	ModePolling      Mode = "polling"
)

// DefaultSnapshotLimit bounds the initial and polling fetches.
const DefaultSnapshotLimit = 200

// errProbeFailed marks a connection torn down by a failed keepalive
// probe. The relay is already known unreachable at that point, so the
// run loop reconnects without a backoff sleep.
var errProbeFailed = errors.New("keepalive probe failed")

// Options configures a Client. Zero values fall back to the package
// defaults.
type Options struct {
	SnapshotLimit int
	Token         string // bearer token sent on every request
	HTTPClient    *http.Client
	Logger        zerolog.Logger

	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	FailureThreshold int // consecutive failures before polling mode
	PollInterval     time.Duration
	ResumeInterval   time.Duration // background SSE retry period while polling
	KeepaliveIdle    time.Duration // idle window before a liveness probe

	// OnMode observes connection-mode transitions.
	OnMode func(Mode)
	// OnEvent observes every applied frame (event type plus decoded record).
	OnEvent func(event string, rec map[string]any)
}

// Client mirrors one remote table. Create with New, begin with Start, and
// always Stop to release the connection and timers.
type Client struct {
	baseURL string
	table   string
	opts    Options
	httpc   *http.Client
	log     zerolog.Logger
	coll    *Collection

	mu          sync.Mutex
	mode        Mode
	lastEventID string
	cancel      context.CancelFunc
	done        chan struct{}
	started     bool
}

// New creates a client for one table ("agents", "channels" or "messages")
// served by the relay at baseURL.
func New(baseURL, table string, opts Options) *Client {
	if opts.SnapshotLimit <= 0 {
		opts.SnapshotLimit = DefaultSnapshotLimit
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ResumeInterval <= 0 {
		opts.ResumeInterval = DefaultResumeInterval
	}
	if opts.KeepaliveIdle <= 0 {
		opts.KeepaliveIdle = DefaultKeepaliveIdle
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{}
	}

	return &Client{
		baseURL: baseURL,
		table:   table,
		opts:    opts,
		httpc:   httpc,
		log:     opts.Logger.With().Str("component", "stream").Str("table", table).Logger(),
		coll:    NewCollection(),
		mode:    ModeDisconnected,
		done:    make(chan struct{}),
	}
}

// Start fetches the initial snapshot and launches the connection loop.
// A failed snapshot is logged, not fatal; the loop will converge once the
// relay is reachable.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("stream client already started")
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.refetch(runCtx); err != nil {
		c.log.Warn().Err(err).Msg("initial snapshot fetch failed")
	}

	go c.run(runCtx)
	return nil
}

// Stop aborts the in-flight connection and cancels pending reconnect and
// keepalive timers. It blocks until the loop has exited and is safe to
// call more than once.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	started := c.started
	c.mu.Unlock()
	if !started {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-c.done
}

// Rows returns the current known rows in arrival order.
func (c *Client) Rows() []map[string]any {
	return c.coll.Rows()
}

// Collection exposes the underlying mirror for read access.
func (c *Client) Collection() *Collection {
	return c.coll
}

// Mode returns the current connection mode.
func (c *Client) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// LastEventID returns the id of the last frame received, sent to the
// relay on reconnect so it can replay missed frames (best effort).
func (c *Client) LastEventID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEventID
}

func (c *Client) setMode(m Mode) {
	c.mu.Lock()
	if c.mode == m {
		c.mu.Unlock()
		return
	}
	c.mode = m
	c.mu.Unlock()

	c.log.Debug().Str("mode", string(m)).Msg("connection mode changed")
	if c.opts.OnMode != nil {
		c.opts.OnMode(m)
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.setMode(ModeDisconnected)

	bo := NewBackoff(c.opts.InitialBackoff, c.opts.MaxBackoff)
	failures := 0

	for {
		if ctx.Err() != nil {
			return
		}

		c.setMode(ModeConnecting)
		opened, err := c.streamOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		cleanEnd := opened && err == nil
		if opened {
			failures = 0
			bo.Reset()
		} else {
			failures++
			c.log.Warn().Err(err).Int("failures", failures).Msg("stream connection failed")
		}
		if opened && err != nil {
			c.log.Warn().Err(err).Msg("stream connection dropped")
		}

		if failures >= c.opts.FailureThreshold {
			if !c.pollLoop(ctx) {
				return
			}
			// A background reconnect succeeded; resume live cycling with a
			// clean slate.
			failures = 0
			bo.Reset()
			continue
		}

		if errors.Is(err, errProbeFailed) {
			// The probe already established the connection is dead; skip
			// the backoff sleep and reconnect now.
			continue
		}

		c.setMode(ModeRetrying)
		delay := bo.Next()
		if cleanEnd {
			// Clean stream end: reconnect at the current backoff without
			// escalating it.
			delay = c.opts.InitialBackoff
			bo.Reset()
		}
		if !c.sleep(ctx, delay) {
			return
		}
	}
}

// streamOnce opens the SSE connection and pumps frames until the stream
// ends, the keepalive probe fails, or the context is cancelled. It
// returns whether the connection was successfully opened.
func (c *Client) streamOnce(ctx context.Context) (bool, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	url := fmt.Sprintf("%s/v1/%s/stream", c.baseURL, c.table)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if id := c.LastEventID(); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("stream endpoint returned %d", resp.StatusCode)
	}

	c.setMode(ModeLive)

	frames := make(chan Frame)
	readErr := make(chan error, 1)
	go func() {
		fr := newFrameReader(resp.Body)
		for {
			f, err := fr.Next()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- f:
			case <-streamCtx.Done():
				return
			}
		}
	}()

	idle := time.NewTimer(c.opts.KeepaliveIdle)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, nil

		case f := <-frames:
			c.applyFrame(f)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(c.opts.KeepaliveIdle)

		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return true, nil
			}
			return true, err

		case <-idle.C:
			if err := c.probe(ctx); err != nil {
				cancel() // release the connection immediately
				return true, fmt.Errorf("%w: %v", errProbeFailed, err)
			}
			idle.Reset(c.opts.KeepaliveIdle)
		}
	}
}

func (c *Client) applyFrame(f Frame) {
	if f.ID != "" {
		c.mu.Lock()
		c.lastEventID = f.ID
		c.mu.Unlock()
	}

	rec, err := f.Record()
	if err != nil {
		// Unparseable frames are dropped; the connection survives.
		c.log.Debug().Err(err).Str("event", f.Event).Msg("dropping frame")
		return
	}

	c.coll.Apply(f.Event, rec)
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(f.Event, rec)
	}
}

// pollLoop periodically refetches the snapshot while attempting an SSE
// reconnect in the background. It returns true once a reconnect succeeds
// and false if the context was cancelled.
func (c *Client) pollLoop(ctx context.Context) bool {
	c.setMode(ModePolling)
	c.log.Info().Msg("falling back to polling mode")

	poll := time.NewTicker(c.opts.PollInterval)
	defer poll.Stop()
	resume := time.NewTicker(c.opts.ResumeInterval)
	defer resume.Stop()

	for {
		select {
		case <-ctx.Done():
			return false

		case <-poll.C:
			if err := c.refetch(ctx); err != nil && ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("polling fetch failed")
			}

		case <-resume.C:
			opened, err := c.streamOnce(ctx)
			if ctx.Err() != nil {
				return false
			}
			if opened {
				c.log.Info().Msg("stream reconnected, leaving polling mode")
				return true
			}
			c.log.Debug().Err(err).Msg("background stream reconnect failed")
			c.setMode(ModePolling)
		}
	}
}

// refetch replaces the mirror with a fresh snapshot.
func (c *Client) refetch(ctx context.Context) error {
	url := fmt.Sprintf("%s/v1/%s?limit=%s", c.baseURL, c.table, strconv.Itoa(c.opts.SnapshotLimit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("snapshot endpoint returned %d", resp.StatusCode)
	}

	var snapshot struct {
		Rows []map[string]any `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}

	c.coll.Replace(snapshot.Rows)
	return nil
}

// probe issues a lightweight liveness check against the relay.
func (c *Client) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// sleep waits for d or until cancellation, reporting whether the wait
// completed.
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
