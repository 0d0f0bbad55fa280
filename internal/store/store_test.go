// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voxmill/settled/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func newTask(id, jobID string) *Task {
	return &Task{
		ID:         id,
		UserID:     strPtr("user-1"),
		Kind:       types.KindDownload,
		Engine:     types.EngineMediaDownloader,
		TargetType: types.TargetMedia,
		TargetID:   "media-1",
		JobID:      &jobID,
		Status:     types.StatusQueued,
	}
}

func TestTaskRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, newTask("t1", "job_1")))

	got, err := s.TaskByID(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, types.KindDownload, got.Kind)
	require.Equal(t, types.StatusQueued, got.Status)
	require.Equal(t, "job_1", *got.JobID)

	missing, err := s.TaskByID(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestTaskByJobIDPrefersActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := newTask("t-old", "job_1")
	old.Status = types.StatusFailed
	require.NoError(t, s.CreateTask(ctx, old))

	fresh := newTask("t-new", "job_1")
	require.NoError(t, s.CreateTask(ctx, fresh))

	got, err := s.TaskByJobID(ctx, "job_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "t-new", got.ID)
}

func TestUpdateTaskStatusLatchesTerminal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, newTask("t1", "job_1")))

	applied, err := s.UpdateTaskStatus(ctx, "t1", types.StatusCompleted, 100, nil)
	require.NoError(t, err)
	require.True(t, applied)

	// A late "running" progress ping must not regress the terminal state.
	applied, err = s.UpdateTaskStatus(ctx, "t1", types.StatusRunning, 50, nil)
	require.NoError(t, err)
	require.False(t, applied)

	got, err := s.TaskByID(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, got.Status)
	require.NotNil(t, got.FinishedAt)
}

func TestUpdateTaskStatusKeepsPreviousError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, newTask("t1", "job_1")))

	_, err := s.UpdateTaskStatus(ctx, "t1", types.StatusRunning, 10, strPtr("transient hiccup"))
	require.NoError(t, err)

	_, err = s.UpdateTaskStatus(ctx, "t1", types.StatusUploading, 90, nil)
	require.NoError(t, err)

	got, err := s.TaskByID(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "transient hiccup", *got.Error)
}

func TestListStuckTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stale := newTask("t-stale", "job_1")
	stale.UpdatedAt = time.Now().Add(-3 * time.Hour)
	require.NoError(t, s.CreateTask(ctx, stale))

	fresh := newTask("t-fresh", "job_2")
	require.NoError(t, s.CreateTask(ctx, fresh))

	done := newTask("t-done", "job_3")
	done.Status = types.StatusCompleted
	done.UpdatedAt = time.Now().Add(-3 * time.Hour)
	require.NoError(t, s.CreateTask(ctx, done))

	stuck, err := s.ListStuckTasks(ctx, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, "t-stale", stuck[0].ID)
}

func TestRecordJobEventDeduplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := &JobEvent{
		EventKey: "callback:job_1:1",
		JobID:    "job_1",
		Source:   EventSourceCallback,
		Status:   "completed",
	}

	inserted, err := s.RecordJobEvent(ctx, ev)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = s.RecordJobEvent(ctx, ev)
	require.NoError(t, err)
	require.False(t, inserted, "duplicate event key must be dropped")

	events, err := s.JobEventsByJobID(ctx, "job_1")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestFailDownloadPreservesLandedArtifacts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureMedia(ctx, "media-1"))
	require.NoError(t, s.FailDownload(ctx, "media-1", "media-downloader: video missing", DownloadArtifacts{
		AudioProcessedKey: strPtr("media-1/audio.m4a"),
	}))

	m, err := s.MediaByID(ctx, "media-1")
	require.NoError(t, err)
	require.Equal(t, "failed", *m.DownloadStatus)
	require.Equal(t, "media-1/audio.m4a", *m.RemoteAudioProcessedKey)
	require.Nil(t, m.RemoteVideoKey)

	// A later write without the audio key must not erase it.
	require.NoError(t, s.FailDownload(ctx, "media-1", "still failing", DownloadArtifacts{}))
	m, err = s.MediaByID(ctx, "media-1")
	require.NoError(t, err)
	require.Equal(t, "media-1/audio.m4a", *m.RemoteAudioProcessedKey)
}

func TestCompleteDownloadWritesResolvedFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureMedia(ctx, "media-1"))

	dur := 321.5
	vb := int64(1000)
	require.NoError(t, s.CompleteDownload(ctx, "media-1", DownloadCompletion{
		Title:           strPtr("A Title"),
		DurationSeconds: &dur,
		VideoKey:        strPtr("media-1/video.mp4"),
		VideoBytes:      &vb,
		CompletedAt:     time.Now(),
	}))

	m, err := s.MediaByID(ctx, "media-1")
	require.NoError(t, err)
	require.Equal(t, "completed", *m.DownloadStatus)
	require.Equal(t, "A Title", *m.Title)
	require.Equal(t, 321.5, *m.DurationSeconds)
	require.Equal(t, int64(1000), *m.DownloadVideoBytes)
	require.NotNil(t, m.DownloadCompletedAt)
}

func TestAuthoritativeJobID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureMedia(ctx, "media-1"))
	require.NoError(t, s.AssignDownloadJob(ctx, "media-1", "job_A", "media-downloader"))
	require.NoError(t, s.AssignASRJob(ctx, "media-1", "job_B"))

	m, err := s.MediaByID(ctx, "media-1")
	require.NoError(t, err)
	require.Equal(t, "job_A", m.AuthoritativeJobID(types.FamilyDownload))
	require.Equal(t, "job_B", m.AuthoritativeJobID(types.FamilyASR))
	require.Equal(t, "", m.AuthoritativeJobID(types.FamilyRender))
}
