// SPDX-License-Identifier: MIT

package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/voxmill/settled/internal/types"
)

// OutputRef points at one artifact a worker claims to have produced.
// Either field may be empty; a key alone is resolvable through presigning.
type OutputRef struct {
	URL string `json:"url,omitempty"`
	Key string `json:"key,omitempty"`
}

func (o *OutputRef) empty() bool {
	return o == nil || (o.URL == "" && o.Key == "")
}

// Outputs enumerates the artifact slots a callback can carry. Which slots
// are meaningful depends on the engine.
type Outputs struct {
	Video          *OutputRef `json:"video,omitempty"`
	Audio          *OutputRef `json:"audio,omitempty"`
	AudioSource    *OutputRef `json:"audioSource,omitempty"`
	AudioProcessed *OutputRef `json:"audioProcessed,omitempty"`
	Metadata       *OutputRef `json:"metadata,omitempty"`
	VTT            *OutputRef `json:"vtt,omitempty"`
	Words          *OutputRef `json:"words,omitempty"`
}

// Metadata carries whatever the worker resolved about the target. All
// fields are optional; the download handler hydrates gaps from the raw
// metadata artifact when one landed.
type Metadata struct {
	Title           *string  `json:"title,omitempty"`
	Author          *string  `json:"author,omitempty"`
	Thumbnail       *string  `json:"thumbnail,omitempty"`
	ViewCount       *int64   `json:"viewCount,omitempty"`
	LikeCount       *int64   `json:"likeCount,omitempty"`
	DurationSeconds *float64 `json:"durationSeconds,omitempty"`
	VideoBytes      *int64   `json:"videoBytes,omitempty"`
	AudioBytes      *int64   `json:"audioBytes,omitempty"`
	Model           string   `json:"model,omitempty"`
	Kind            string   `json:"kind,omitempty"`
}

// Payload is the signed JSON body a worker posts back.
type Payload struct {
	JobID      string    `json:"jobId"`
	MediaID    string    `json:"mediaId,omitempty"`
	TargetID   string    `json:"targetId,omitempty"`
	Status     string    `json:"status"`
	Engine     string    `json:"engine,omitempty"`
	Outputs    *Outputs  `json:"outputs,omitempty"`
	Metadata   *Metadata `json:"metadata,omitempty"`
	DurationMs *int64    `json:"durationMs,omitempty"`
	Progress   *int      `json:"progress,omitempty"`
	Error      string    `json:"error,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	EventSeq   *int64    `json:"eventSeq,omitempty"`
}

// ParsePayload decodes and validates a callback body.
func ParsePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the fields every callback must carry.
func (p *Payload) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("%w: jobId is required", ErrBadPayload)
	}
	if !types.TaskStatus(p.Status).IsValid() {
		return fmt.Errorf("%w: unrecognized status %q", ErrBadPayload, p.Status)
	}
	return nil
}

// Target returns the record id the callback addresses.
func (p *Payload) Target() string {
	if p.MediaID != "" {
		return p.MediaID
	}
	return p.TargetID
}

// TaskStatus returns the payload status as a typed constant.
func (p *Payload) TaskStatus() types.TaskStatus {
	return types.TaskStatus(p.Status)
}

// EventKey derives the dedup key for this delivery. Workers that number
// their events get per-event granularity; otherwise the attempt counter
// separates retries of the same job from genuine redeliveries.
func (p *Payload) EventKey() string {
	if p.EventSeq != nil {
		return fmt.Sprintf("callback:%s:%d", p.JobID, *p.EventSeq)
	}
	return fmt.Sprintf("callback:%s:a%d:%s", p.JobID, p.Attempts, p.Status)
}

// progressOrDefault returns the reported progress, or a sensible value
// derived from the status when the worker sent none.
func (p *Payload) progressOrDefault(current int) int {
	if p.Progress != nil {
		return *p.Progress
	}
	if p.TaskStatus() == types.StatusCompleted {
		return 100
	}
	return current
}

// errorPtr returns the payload error as a nullable string.
func (p *Payload) errorPtr() *string {
	if p.Error == "" {
		return nil
	}
	e := p.Error
	return &e
}
