package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/muroyamasusumu-Git/cscs-sync-api/utils"
)

// Status is the last known sync outcome, surfaced to status indicators.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSending Status = "sending"
	StatusOK      Status = "ok"
	StatusPulled  Status = "pulled"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

const defaultDebounce = time.Second

// Config configures a sync client. Only BaseURL is required.
type Config struct {
	BaseURL    string
	UserKey    string
	Debounce   time.Duration
	HTTPClient *http.Client
}

// Client owns the timing and reliability of synchronization: it debounces
// queue flushes, pushes deltas to the merge endpoint, pulls authoritative
// snapshots, and applies responses to the local store under the strict
// validation rules in validate.go. Failures never clear the queue and are
// never silently folded into a wrong local value.
type Client struct {
	baseURL    string
	userKey    string
	debounce   time.Duration
	httpClient *http.Client

	queue *DeltaQueue
	store *LocalStore

	mu      sync.Mutex
	status  Status
	lastErr string
	online  bool
	timer   *time.Timer
}

func New(cfg Config, store *LocalStore) *Client {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		userKey:    cfg.UserKey,
		debounce:   debounce,
		httpClient: httpClient,
		queue:      NewDeltaQueue(),
		store:      store,
		status:     StatusIdle,
		online:     true,
	}
}

// Queue exposes the delta queue for the answer recorder.
func (c *Client) Queue() *DeltaQueue {
	return c.queue
}

// Status returns the last known sync status and error text.
func (c *Client) Status() (Status, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.lastErr
}

// SetOnline reflects connectivity changes. Going offline parks the
// queue; coming back online flushes whatever accumulated while away.
func (c *Client) SetOnline(online bool) {
	c.mu.Lock()
	c.online = online
	if !online {
		c.status = StatusOffline
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
	} else if c.status == StatusOffline {
		c.status = StatusIdle
	}
	c.mu.Unlock()

	if online {
		if err := c.Flush(context.Background(), false); err != nil {
			utils.LogSync("Flush on reconnect failed: %v", err)
		}
	}
}

// ScheduleFlush arms (or re-arms) the debounce window so rapid
// successive enqueues collapse into one network exchange.
func (c *Client) ScheduleFlush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.online {
		c.status = StatusOffline
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, func() {
		if err := c.Flush(context.Background(), false); err != nil {
			utils.LogSync("Debounced flush failed: %v", err)
		}
	})
}

// Flush drains the queue and sends it to the merge endpoint. An empty
// drain is a no-op unless force is set — a user-initiated manual sync
// must reach the server even with zero deltas. On any failure the
// drained deltas are requeued and the status reports the error; retry
// happens on the next natural trigger, never in a loop here.
func (c *Client) Flush(ctx context.Context, force bool) error {
	drained := c.queue.Drain()
	if drained.Empty() && !force {
		return nil
	}
	drained.UpdatedAt = time.Now().UnixMilli()

	c.setStatus(StatusSending, "")

	body, err := json.Marshal(drained)
	if err != nil {
		// Cannot happen for these types, but the queue must survive anyway.
		c.queue.Requeue(drained)
		c.setStatus(StatusError, err.Error())
		return fmt.Errorf("marshal delta: %w", err)
	}

	data, err := c.post(ctx, "/merge", body)
	if err != nil {
		c.queue.Requeue(drained)
		c.setStatus(StatusError, err.Error())
		return err
	}

	// The drain is acknowledged; it must never be re-sent. Additive
	// counters double-apply on duplicate delivery, so clearing only
	// after confirmed success is the safety net here.
	if err := c.applySnapshot(data); err != nil {
		c.setStatus(StatusError, err.Error())
		return err
	}

	c.setStatus(StatusOK, "")
	return nil
}

// Pull fetches the full authoritative snapshot and applies it with the
// same validation discipline as a merge response. Used at startup and
// whenever the caller wants a clean resync.
func (c *Client) Pull(ctx context.Context) error {
	c.setStatus(StatusSending, "")

	data, err := c.get(ctx, "/state")
	if err != nil {
		c.setStatus(StatusError, err.Error())
		return err
	}

	if err := c.applySnapshot(data); err != nil {
		c.setStatus(StatusError, err.Error())
		return err
	}

	c.setStatus(StatusPulled, "")
	return nil
}

func (c *Client) setStatus(s Status, errText string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
	c.lastErr = errText
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.userKey != "" {
		req.Header.Set("X-Sync-User", c.userKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return data, nil
}

// applySnapshot overwrites local cache fields with server state,
// field by field. A missing or malformed field skips only that field's
// overwrite — the cached values stay — and every skip is logged with the
// specific reason. One bad field never blocks the rest of the response.
func (c *Client) applySnapshot(data []byte) error {
	fields, err := decodeSnapshotFields(data)
	if err != nil {
		return err
	}

	for _, field := range CounterFields {
		values, err := fields.counterMap(field)
		if err != nil {
			utils.LogSync("Skipping local overwrite: %v", err)
			continue
		}
		if err := c.store.ReplaceCounters(field, values); err != nil {
			return fmt.Errorf("replace %q cache: %w", field, err)
		}
	}

	for _, field := range []string{MetaStreak3Today, MetaStreak3WrongToday} {
		d, err := fields.dayUnique(field)
		if err != nil {
			utils.LogSync("Skipping local overwrite: %v", err)
			continue
		}
		if err := c.store.SetMeta(field, d); err != nil {
			return fmt.Errorf("store %q cache: %w", field, err)
		}
	}

	if d, err := fields.oncePerDay(MetaOncePerDayToday); err != nil {
		utils.LogSync("Skipping local overwrite: %v", err)
	} else if err := c.store.SetMeta(MetaOncePerDayToday, d); err != nil {
		return fmt.Errorf("store oncePerDayToday cache: %w", err)
	}

	if g, err := fields.globalStats(); err != nil {
		utils.LogSync("Skipping local overwrite: %v", err)
	} else if err := c.store.SetMeta(MetaGlobal, g); err != nil {
		return fmt.Errorf("store global cache: %w", err)
	}

	if fav, err := fields.favMap(); err != nil {
		utils.LogSync("Skipping local overwrite: %v", err)
	} else if err := c.store.SetMeta(MetaFav, fav); err != nil {
		return fmt.Errorf("store fav cache: %w", err)
	}

	if mode, err := fields.stringField("odoa_mode"); err != nil {
		utils.LogSync("Skipping local overwrite: %v", err)
	} else if err := c.store.SetMeta(MetaOdoaMode, mode); err != nil {
		return fmt.Errorf("store odoa_mode cache: %w", err)
	}

	// exam_date is optional on the wire; absence is normal, not a skip
	// worth logging.
	if date, err := fields.stringField("exam_date"); err == nil {
		if err := c.store.SetMeta(MetaExamDate, date); err != nil {
			return fmt.Errorf("store exam_date cache: %w", err)
		}
	}

	return nil
}
