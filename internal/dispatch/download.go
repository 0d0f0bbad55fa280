// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voxmill/settled/internal/probe"
	"github.com/voxmill/settled/internal/store"
	"github.com/voxmill/settled/internal/types"
)

const downloadErrPrefix = "media-downloader: "

// handleDownload reconciles a cloud download outcome: confirms claimed
// artifacts against object storage, hydrates media metadata and settles
// the prefunded charge against the final duration-based cost.
func (r *Router) handleDownload(ctx context.Context, task *store.Task, p *Payload) error {
	status := p.TaskStatus()

	if !status.IsTerminal() {
		applied, err := r.store.UpdateTaskStatus(ctx, task.ID, status, p.progressOrDefault(task.Progress), p.errorPtr())
		if err != nil {
			return fmt.Errorf("update download task %s: %w", task.ID, err)
		}
		// A progress ping arriving after the terminal callback must not
		// regress the media status either.
		if applied {
			if err := r.store.SetDownloadStatus(ctx, task.TargetID, p.Status, p.errorPtr()); err != nil {
				return fmt.Errorf("set download status %s: %w", task.TargetID, err)
			}
		}
		return nil
	}

	out := p.Outputs
	if out == nil {
		out = &Outputs{}
	}
	video := out.Video
	audio := out.AudioProcessed
	if audio.empty() {
		audio = out.Audio
	}
	landed := store.DownloadArtifacts{
		VideoKey:          keyPtr(video),
		AudioProcessedKey: keyPtr(audio),
		AudioSourceKey:    keyPtr(out.AudioSource),
		MetadataKey:       keyPtr(out.Metadata),
	}

	if status != types.StatusCompleted {
		msg := downloadErrPrefix + p.Status
		if p.Error != "" {
			msg = downloadErrPrefix + p.Error
		}
		return r.failDownload(ctx, task, status, msg, landed, string(status))
	}

	// A "completed" payload carrying only a metadata artifact is a
	// comments/metadata refresh that was misattributed the real download
	// job id. The media has no playable artifact, so the download failed.
	if video.empty() && audio.empty() && !out.Metadata.empty() {
		return r.failDownload(ctx, task, types.StatusFailed,
			downloadErrPrefix+"metadata_only: no media artifact produced", landed, "metadata_only")
	}

	// Confirm video and audio independently. Only a definitive missing
	// verdict fails the job; unknown proceeds on the worker's word.
	var videoSize, audioSize int64
	if !video.empty() {
		res := r.prober.ProbeFresh(ctx, video.Key, video.URL)
		if res.State == probe.StateMissing {
			keep := landed
			keep.VideoKey = nil
			return r.failDownload(ctx, task, types.StatusFailed,
				downloadErrPrefix+"video artifact missing from storage", keep, "missing_artifact")
		}
		videoSize = res.SizeBytes
	}
	if !audio.empty() {
		res := r.prober.ProbeFresh(ctx, audio.Key, audio.URL)
		if res.State == probe.StateMissing {
			keep := landed
			keep.AudioProcessedKey = nil
			return r.failDownload(ctx, task, types.StatusFailed,
				downloadErrPrefix+"audio artifact missing from storage", keep, "missing_artifact")
		}
		audioSize = res.SizeBytes
	}

	md := r.hydrateMetadata(ctx, p.Metadata, out.Metadata)
	duration := resolveDuration(md, p.DurationMs)

	completion := store.DownloadCompletion{
		Title:             md.Title,
		Author:            md.Author,
		Thumbnail:         md.Thumbnail,
		ViewCount:         md.ViewCount,
		LikeCount:         md.LikeCount,
		DurationSeconds:   duration,
		VideoKey:          landed.VideoKey,
		AudioProcessedKey: landed.AudioProcessedKey,
		AudioSourceKey:    landed.AudioSourceKey,
		MetadataKey:       landed.MetadataKey,
		VideoBytes:        firstInt64(md.VideoBytes, nonZero(videoSize)),
		AudioBytes:        firstInt64(md.AudioBytes, nonZero(audioSize)),
		CompletedAt:       time.Now().UTC(),
	}
	if err := r.store.CompleteDownload(ctx, task.TargetID, completion); err != nil {
		return fmt.Errorf("complete download %s: %w", task.TargetID, err)
	}
	if _, err := r.store.UpdateTaskStatus(ctx, task.ID, types.StatusCompleted, 100, nil); err != nil {
		return fmt.Errorf("complete download task %s: %w", task.ID, err)
	}

	if duration != nil {
		cost, err := r.pricing.DownloadCost(ctx, *duration)
		if err != nil {
			r.logger.Error().Err(err).Str("job_id", p.JobID).Msg("download cost calculation failed, settlement skipped")
			return nil
		}
		r.settleUsage(ctx, task, usageType(task.Kind), cost.Points, cost.Rule)
	} else {
		// Without a resolved duration the final cost is unknowable; the
		// prefund stands as the charge.
		r.logger.Warn().Str("job_id", p.JobID).Msg("no duration resolved, prefund kept as final charge")
	}
	return nil
}

// failDownload writes the failure to media and task records, preserving
// any artifacts that did land, and releases the prefund.
func (r *Router) failDownload(ctx context.Context, task *store.Task, status types.TaskStatus, msg string, keep store.DownloadArtifacts, trigger string) error {
	if err := r.store.FailDownload(ctx, task.TargetID, msg, keep); err != nil {
		return fmt.Errorf("fail download %s: %w", task.TargetID, err)
	}
	if _, err := r.store.UpdateTaskStatus(ctx, task.ID, status, task.Progress, &msg); err != nil {
		return fmt.Errorf("fail download task %s: %w", task.ID, err)
	}
	r.refundPrefund(ctx, task, usageType(task.Kind), trigger)
	return nil
}

// hydrateMetadata fills gaps in the payload metadata from the raw
// metadata artifact when one landed. Fetch failures degrade to whatever
// the payload carried; completion never blocks on this.
func (r *Router) hydrateMetadata(ctx context.Context, md *Metadata, ref *OutputRef) *Metadata {
	if md == nil {
		md = &Metadata{}
	}
	if (md.Title != nil && md.DurationSeconds != nil) || ref.empty() {
		return md
	}
	fetched := r.fetchMetadataArtifact(ctx, ref)
	if fetched == nil {
		return md
	}
	if md.Title == nil {
		md.Title = fetched.Title
	}
	if md.Author == nil {
		md.Author = fetched.Author
	}
	if md.Thumbnail == nil {
		md.Thumbnail = fetched.Thumbnail
	}
	if md.ViewCount == nil {
		md.ViewCount = fetched.ViewCount
	}
	if md.LikeCount == nil {
		md.LikeCount = fetched.LikeCount
	}
	if md.DurationSeconds == nil {
		md.DurationSeconds = fetched.DurationSeconds
	}
	return md
}

// fetchMetadataArtifact downloads and summarizes the raw metadata JSON
// the downloader uploaded alongside the media.
func (r *Router) fetchMetadataArtifact(ctx context.Context, ref *OutputRef) *Metadata {
	url := ref.URL
	if url == "" && ref.Key != "" && r.presigner != nil {
		presigned, err := r.presigner.PresignGet(ref.Key)
		if err != nil {
			r.logger.Debug().Err(err).Str("key", ref.Key).Msg("metadata presign failed")
			return nil
		}
		url = presigned
	}
	if url == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug().Err(err).Msg("metadata artifact fetch failed")
		return nil
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		r.logger.Debug().Int("status", resp.StatusCode).Msg("metadata artifact fetch rejected")
		return nil
	}

	var raw struct {
		Title     string   `json:"title"`
		Uploader  string   `json:"uploader"`
		Author    string   `json:"author"`
		Thumbnail string   `json:"thumbnail"`
		ViewCount *int64   `json:"view_count"`
		LikeCount *int64   `json:"like_count"`
		Duration  *float64 `json:"duration"`
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil || json.Unmarshal(body, &raw) != nil {
		return nil
	}

	md := &Metadata{
		ViewCount:       raw.ViewCount,
		LikeCount:       raw.LikeCount,
		DurationSeconds: raw.Duration,
	}
	if raw.Title != "" {
		md.Title = &raw.Title
	}
	author := raw.Author
	if author == "" {
		author = raw.Uploader
	}
	if author != "" {
		md.Author = &author
	}
	if raw.Thumbnail != "" {
		md.Thumbnail = &raw.Thumbnail
	}
	return md
}

// resolveDuration prefers the resolved metadata duration, falling back to
// the worker's measured duration.
func resolveDuration(md *Metadata, durationMs *int64) *float64 {
	if md != nil && md.DurationSeconds != nil {
		return md.DurationSeconds
	}
	if durationMs != nil && *durationMs > 0 {
		d := float64(*durationMs) / 1000
		return &d
	}
	return nil
}

func keyPtr(o *OutputRef) *string {
	if o == nil || o.Key == "" {
		return nil
	}
	k := o.Key
	return &k
}

func firstInt64(ptrs ...*int64) *int64 {
	for _, p := range ptrs {
		if p != nil {
			return p
		}
	}
	return nil
}

func nonZero(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return &v
}
