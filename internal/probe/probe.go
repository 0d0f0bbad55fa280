// SPDX-License-Identifier: MIT

// Package probe performs best-effort existence and size checks against
// object storage.
//
// Object stores can exhibit brief read-after-write inconsistency, so a
// "missing" verdict on a freshly uploaded key is retried with increasing
// backoff before it is accepted as a true failure. An inconclusive probe
// ("unknown") is never escalated into a failure by itself; callers need
// independent corroboration before treating an artifact as confirmed.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/voxmill/settled/internal/httpx"
	"github.com/voxmill/settled/internal/metrics"
)

// State classifies a probe verdict.
type State string

const (
	// StateExists means the object answered a ranged GET.
	StateExists State = "exists"
	// StateMissing means storage answered 404. This is a definitive verdict.
	StateMissing State = "missing"
	// StateUnknown covers timeouts, network errors and unexpected status
	// codes. Never treated as missing.
	StateUnknown State = "unknown"
)

// Result is the outcome of a probe.
type Result struct {
	State     State
	SizeBytes int64 // 0 when the size could not be determined
}

// Presigner converts a storage key into a fetchable URL.
type Presigner interface {
	PresignGet(key string) (string, error)
}

// defaultSchedule covers roughly 18.5s of read-after-write grace.
var defaultSchedule = []time.Duration{
	250 * time.Millisecond,
	750 * time.Millisecond,
	1500 * time.Millisecond,
	3 * time.Second,
	5 * time.Second,
	8 * time.Second,
}

// ScheduleWithin trims the default retry schedule so the cumulative wait
// stays within maxWait. A non-positive maxWait keeps the full schedule.
func ScheduleWithin(maxWait time.Duration) []time.Duration {
	if maxWait <= 0 {
		return defaultSchedule
	}
	var total time.Duration
	out := make([]time.Duration, 0, len(defaultSchedule))
	for _, d := range defaultSchedule {
		if total+d > maxWait {
			break
		}
		total += d
		out = append(out, d)
	}
	return out
}

// scheduleBackOff yields a fixed retry schedule, then stops.
type scheduleBackOff struct {
	schedule []time.Duration
	idx      int
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	if b.idx >= len(b.schedule) {
		return backoff.Stop
	}
	d := b.schedule[b.idx]
	b.idx++
	return d
}

func (b *scheduleBackOff) Reset() { b.idx = 0 }

// Options configures a Prober.
type Options struct {
	Client   *http.Client    // defaults to a hardened 10s client
	Logger   zerolog.Logger  // defaults to a nop logger
	Schedule []time.Duration // retry schedule for fresh keys
}

// Prober checks object existence via ranged GETs.
type Prober struct {
	client     *http.Client
	presigner  Presigner
	logger     zerolog.Logger
	newBackOff func() backoff.BackOff
}

// New creates a Prober. presigner may be nil if all callbacks carry
// direct URLs.
func New(presigner Presigner, opts Options) *Prober {
	client := opts.Client
	if client == nil {
		client = httpx.NewClient(10 * time.Second)
	}
	schedule := opts.Schedule
	if len(schedule) == 0 {
		schedule = defaultSchedule
	}
	return &Prober{
		client:    client,
		presigner: presigner,
		logger:    opts.Logger,
		newBackOff: func() backoff.BackOff {
			return &scheduleBackOff{schedule: schedule}
		},
	}
}

// Probe performs one probe pass: the direct URL first, then a presigned
// URL for the key when the direct URL is absent or inconclusive.
func (p *Prober) Probe(ctx context.Context, key, directURL string) Result {
	res := Result{State: StateUnknown}

	if directURL != "" {
		res = p.attempt(ctx, directURL)
		if res.State != StateUnknown {
			metrics.RecordProbeResult(string(res.State))
			return res
		}
	}

	if key != "" && p.presigner != nil {
		url, err := p.presigner.PresignGet(key)
		if err != nil {
			p.logger.Warn().Err(err).Str("key", key).Msg("presign failed")
			metrics.RecordProbeResult(string(StateUnknown))
			return Result{State: StateUnknown}
		}
		res = p.attempt(ctx, url)
	}

	metrics.RecordProbeResult(string(res.State))
	return res
}

var errStillMissing = errors.New("object still missing")

// ProbeFresh probes a freshly uploaded object, retrying a missing verdict
// across the backoff schedule. Exists and unknown return immediately:
// unknown is not worth hammering storage over, and it must not fail the
// caller either way.
func (p *Prober) ProbeFresh(ctx context.Context, key, directURL string) Result {
	var res Result
	op := func() error {
		res = p.Probe(ctx, key, directURL)
		if res.State == StateMissing {
			return errStillMissing
		}
		return nil
	}

	b := backoff.WithContext(p.newBackOff(), ctx)
	if err := backoff.Retry(op, b); err != nil {
		p.logger.Warn().Str("key", key).Msg("object missing after backoff window")
	}
	return res
}

// attempt issues a single ranged GET against url.
func (p *Prober) attempt(ctx context.Context, url string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{State: StateUnknown}
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug().Err(err).Str("url", url).Msg("probe request failed")
		return Result{State: StateUnknown}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return Result{State: StateExists, SizeBytes: sizeFromResponse(resp)}
	case http.StatusNotFound:
		return Result{State: StateMissing}
	default:
		p.logger.Debug().Int("status", resp.StatusCode).Str("url", url).Msg("inconclusive probe status")
		return Result{State: StateUnknown}
	}
}

// sizeFromResponse extracts the total object size from Content-Range
// ("bytes 0-0/12345") or falls back to Content-Length for full responses.
func sizeFromResponse(resp *http.Response) int64 {
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if idx := strings.LastIndex(cr, "/"); idx >= 0 {
			if size, err := strconv.ParseInt(cr[idx+1:], 10, 64); err == nil {
				return size
			}
		}
	}
	if resp.StatusCode == http.StatusOK && resp.ContentLength > 0 {
		return resp.ContentLength
	}
	return 0
}

// String implements fmt.Stringer for logging.
func (r Result) String() string {
	return fmt.Sprintf("%s(%d)", r.State, r.SizeBytes)
}
