// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/voxmill/settled/internal/types"
)

// Media is the outcome sink for download, ASR and render jobs. The
// per-family job id columns identify the currently authoritative job for
// this target; callbacks carrying any other job id are stale and must not
// mutate these fields.
type Media struct {
	ID              string
	Title           *string
	Author          *string
	Thumbnail       *string
	ViewCount       *int64
	LikeCount       *int64
	DurationSeconds *float64

	DownloadBackend         *string
	DownloadStatus          *string
	DownloadJobID           *string
	DownloadError           *string
	RemoteVideoKey          *string
	RemoteAudioProcessedKey *string
	RemoteAudioSourceKey    *string
	RemoteMetadataKey       *string
	DownloadVideoBytes      *int64
	DownloadAudioBytes      *int64
	DownloadCompletedAt     *time.Time

	ASRStatus          *string
	ASRJobID           *string
	ASRError           *string
	TranscriptVTTKey   *string
	TranscriptWordsKey *string

	RenderStatus    *string
	RenderJobID     *string
	RenderError     *string
	RenderOutputKey *string

	UpdatedAt time.Time
}

// AuthoritativeJobID returns the job id currently owning the given family
// on this record, or "" when none is assigned.
func (m *Media) AuthoritativeJobID(family types.JobFamily) string {
	var p *string
	switch family {
	case types.FamilyDownload:
		p = m.DownloadJobID
	case types.FamilyASR:
		p = m.ASRJobID
	case types.FamilyRender:
		p = m.RenderJobID
	}
	if p == nil {
		return ""
	}
	return *p
}

// EnsureMedia creates an empty media row if none exists.
func (s *Store) EnsureMedia(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO media (id, updated_at) VALUES (?, ?)
	ON CONFLICT(id) DO NOTHING`, id, fmtTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("ensure media %s: %w", id, err)
	}
	return nil
}

// MediaByID retrieves a media record. Returns nil, nil when absent.
func (s *Store) MediaByID(ctx context.Context, id string) (*Media, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT id, title, author, thumbnail, view_count, like_count, duration_seconds,
		download_backend, download_status, download_job_id, download_error,
		remote_video_key, remote_audio_processed_key, remote_audio_source_key, remote_metadata_key,
		download_video_bytes, download_audio_bytes, download_completed_at,
		asr_status, asr_job_id, asr_error, transcript_vtt_key, transcript_words_key,
		render_status, render_job_id, render_error, render_output_key,
		updated_at
	FROM media WHERE id = ?`, id)

	var (
		m           Media
		completedAt sql.NullString
		updatedAt   string
	)
	err := row.Scan(&m.ID, &m.Title, &m.Author, &m.Thumbnail, &m.ViewCount, &m.LikeCount, &m.DurationSeconds,
		&m.DownloadBackend, &m.DownloadStatus, &m.DownloadJobID, &m.DownloadError,
		&m.RemoteVideoKey, &m.RemoteAudioProcessedKey, &m.RemoteAudioSourceKey, &m.RemoteMetadataKey,
		&m.DownloadVideoBytes, &m.DownloadAudioBytes, &completedAt,
		&m.ASRStatus, &m.ASRJobID, &m.ASRError, &m.TranscriptVTTKey, &m.TranscriptWordsKey,
		&m.RenderStatus, &m.RenderJobID, &m.RenderError, &m.RenderOutputKey,
		&updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.DownloadCompletedAt = parseTimePtr(completedAt)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}

// AssignDownloadJob marks jobID as the authoritative download job for the
// target. Called by the enqueue path; exposed here so tests and fixtures
// can set up the authority the router checks against.
func (s *Store) AssignDownloadJob(ctx context.Context, id, jobID, backend string) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE media SET download_job_id = ?, download_backend = ?, download_status = 'queued',
		download_error = NULL, updated_at = ?
	WHERE id = ?`, jobID, backend, fmtTime(time.Now().UTC()), id)
	return err
}

// AssignASRJob marks jobID as the authoritative ASR job for the target.
func (s *Store) AssignASRJob(ctx context.Context, id, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE media SET asr_job_id = ?, asr_status = 'queued', asr_error = NULL, updated_at = ?
	WHERE id = ?`, jobID, fmtTime(time.Now().UTC()), id)
	return err
}

// AssignRenderJob marks jobID as the authoritative render job for the target.
func (s *Store) AssignRenderJob(ctx context.Context, id, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE media SET render_job_id = ?, render_status = 'queued', render_error = NULL, updated_at = ?
	WHERE id = ?`, jobID, fmtTime(time.Now().UTC()), id)
	return err
}

// SetDownloadStatus records a non-terminal download status transition.
func (s *Store) SetDownloadStatus(ctx context.Context, id, status string, errMsg *string) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE media SET download_status = ?, download_error = COALESCE(?, download_error), updated_at = ?
	WHERE id = ?`, status, errMsg, fmtTime(time.Now().UTC()), id)
	return err
}

// DownloadArtifacts carries whatever keys a failed or partial download
// did manage to land. Keys are written with COALESCE so a nil field never
// erases a previously confirmed key.
type DownloadArtifacts struct {
	VideoKey          *string
	AudioProcessedKey *string
	AudioSourceKey    *string
	MetadataKey       *string
}

// FailDownload marks the download failed while preserving any artifacts
// that did land.
func (s *Store) FailDownload(ctx context.Context, id, errMsg string, keep DownloadArtifacts) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE media SET
		download_status = 'failed',
		download_error = ?,
		remote_video_key = COALESCE(?, remote_video_key),
		remote_audio_processed_key = COALESCE(?, remote_audio_processed_key),
		remote_audio_source_key = COALESCE(?, remote_audio_source_key),
		remote_metadata_key = COALESCE(?, remote_metadata_key),
		updated_at = ?
	WHERE id = ?`,
		errMsg, keep.VideoKey, keep.AudioProcessedKey, keep.AudioSourceKey, keep.MetadataKey,
		fmtTime(time.Now().UTC()), id)
	return err
}

// DownloadCompletion carries all fields resolved for a confirmed download.
type DownloadCompletion struct {
	Title           *string
	Author          *string
	Thumbnail       *string
	ViewCount       *int64
	LikeCount       *int64
	DurationSeconds *float64

	VideoKey          *string
	AudioProcessedKey *string
	AudioSourceKey    *string
	MetadataKey       *string
	VideoBytes        *int64
	AudioBytes        *int64
	CompletedAt       time.Time
}

// CompleteDownload writes the resolved media fields for a confirmed
// download. Nil fields leave existing values untouched.
func (s *Store) CompleteDownload(ctx context.Context, id string, c DownloadCompletion) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE media SET
		download_status = 'completed',
		download_error = NULL,
		title = COALESCE(?, title),
		author = COALESCE(?, author),
		thumbnail = COALESCE(?, thumbnail),
		view_count = COALESCE(?, view_count),
		like_count = COALESCE(?, like_count),
		duration_seconds = COALESCE(?, duration_seconds),
		remote_video_key = COALESCE(?, remote_video_key),
		remote_audio_processed_key = COALESCE(?, remote_audio_processed_key),
		remote_audio_source_key = COALESCE(?, remote_audio_source_key),
		remote_metadata_key = COALESCE(?, remote_metadata_key),
		download_video_bytes = COALESCE(?, download_video_bytes),
		download_audio_bytes = COALESCE(?, download_audio_bytes),
		download_completed_at = ?,
		updated_at = ?
	WHERE id = ?`,
		c.Title, c.Author, c.Thumbnail, c.ViewCount, c.LikeCount, c.DurationSeconds,
		c.VideoKey, c.AudioProcessedKey, c.AudioSourceKey, c.MetadataKey,
		c.VideoBytes, c.AudioBytes,
		fmtTime(c.CompletedAt), fmtTime(time.Now().UTC()), id)
	return err
}

// FailASR records a failed transcription attempt.
func (s *Store) FailASR(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE media SET asr_status = 'failed', asr_error = ?, updated_at = ?
	WHERE id = ?`, errMsg, fmtTime(time.Now().UTC()), id)
	return err
}

// CompleteASR records transcript artifacts for a completed transcription.
func (s *Store) CompleteASR(ctx context.Context, id, vttKey string, wordsKey *string) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE media SET
		asr_status = 'completed',
		asr_error = NULL,
		transcript_vtt_key = ?,
		transcript_words_key = COALESCE(?, transcript_words_key),
		updated_at = ?
	WHERE id = ?`, vttKey, wordsKey, fmtTime(time.Now().UTC()), id)
	return err
}

// FailRender records a failed render attempt.
func (s *Store) FailRender(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE media SET render_status = 'failed', render_error = ?, updated_at = ?
	WHERE id = ?`, errMsg, fmtTime(time.Now().UTC()), id)
	return err
}

// CompleteRender records the output reference for a completed render.
func (s *Store) CompleteRender(ctx context.Context, id, outputKey string) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE media SET render_status = 'completed', render_error = NULL,
		render_output_key = ?, updated_at = ?
	WHERE id = ?`, outputKey, fmtTime(time.Now().UTC()), id)
	return err
}
