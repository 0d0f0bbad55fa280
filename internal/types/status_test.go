// SPDX-License-Identifier: MIT

package types

import "testing"

func TestTaskStatusIsTerminal(t *testing.T) {
	terminal := []TaskStatus{StatusCompleted, StatusFailed, StatusCanceled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %q to be terminal", s)
		}
	}

	active := []TaskStatus{StatusQueued, StatusFetchingMetadata, StatusPreparing, StatusRunning, StatusUploading}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("expected %q to be non-terminal", s)
		}
	}
}

func TestTaskStatusIsValid(t *testing.T) {
	if TaskStatus("exploded").IsValid() {
		t.Error("unknown status must not validate")
	}
	if !StatusUploading.IsValid() {
		t.Error("uploading must validate")
	}
}

func TestTaskKindFamily(t *testing.T) {
	cases := []struct {
		kind TaskKind
		want JobFamily
	}{
		{KindDownload, FamilyDownload},
		{KindASR, FamilyASR},
		{KindRenderComments, FamilyRender},
		{KindRenderSubtitles, FamilyRender},
		{KindRenderThread, FamilyRender},
		{KindMetadataRefresh, FamilyNone},
		{KindCommentsDownload, FamilyNone},
		{KindChannelSync, FamilyNone},
		{KindThreadAssetIngest, FamilyNone},
	}
	for _, tc := range cases {
		if got := tc.kind.Family(); got != tc.want {
			t.Errorf("%s: family = %q, want %q", tc.kind, got, tc.want)
		}
	}
}

func TestEngineIsValid(t *testing.T) {
	for _, e := range []Engine{EngineMediaDownloader, EngineRendererRemotion, EngineBurnerFFmpeg, EngineASRPipeline} {
		if !e.IsValid() {
			t.Errorf("expected %q to be valid", e)
		}
	}
	if Engine("teleporter").IsValid() {
		t.Error("unknown engine must not validate")
	}
}
