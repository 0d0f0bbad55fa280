// SPDX-License-Identifier: MIT

// Package types provides type-safe enumerations for tasks, engines and
// job statuses.
//
// This package centralizes all typed constants to prevent string-based
// bugs and enable exhaustive switch statements in the dispatch layer.
package types

// TaskKind identifies what a dispatched job attempt is supposed to do.
type TaskKind string

// Task kind constants. Several kinds share the same worker engine; the
// dispatch table is keyed by (engine, kind), not by engine alone.
const (
	KindDownload          TaskKind = "download"
	KindMetadataRefresh   TaskKind = "metadata-refresh"
	KindCommentsDownload  TaskKind = "comments-download"
	KindRenderComments    TaskKind = "render-comments"
	KindRenderSubtitles   TaskKind = "render-subtitles"
	KindRenderThread      TaskKind = "render-thread"
	KindChannelSync       TaskKind = "channel-sync"
	KindASR               TaskKind = "asr"
	KindThreadAssetIngest TaskKind = "thread-asset-ingest"
)

// String implements fmt.Stringer for logging.
func (k TaskKind) String() string { return string(k) }

// IsValid checks whether the kind is one of the defined constants.
func (k TaskKind) IsValid() bool {
	switch k {
	case KindDownload, KindMetadataRefresh, KindCommentsDownload,
		KindRenderComments, KindRenderSubtitles, KindRenderThread,
		KindChannelSync, KindASR, KindThreadAssetIngest:
		return true
	default:
		return false
	}
}

// JobFamily groups task kinds by which authoritative job-id column on the
// media record guards them against stale callbacks.
type JobFamily string

const (
	FamilyDownload JobFamily = "download"
	FamilyASR      JobFamily = "asr"
	FamilyRender   JobFamily = "render"

	// FamilyNone marks kinds that never own an authoritative job id
	// (side jobs such as metadata refreshes and channel syncs).
	FamilyNone JobFamily = ""
)

// Family returns the job family guarding this kind.
func (k TaskKind) Family() JobFamily {
	switch k {
	case KindDownload:
		return FamilyDownload
	case KindASR:
		return FamilyASR
	case KindRenderComments, KindRenderSubtitles, KindRenderThread:
		return FamilyRender
	default:
		return FamilyNone
	}
}

// Engine identifies the worker pool a task runs on.
type Engine string

// Engine constants for the known worker pools.
const (
	EngineMediaDownloader  Engine = "media-downloader"
	EngineRendererRemotion Engine = "renderer-remotion"
	EngineBurnerFFmpeg     Engine = "burner-ffmpeg"
	EngineASRPipeline      Engine = "asr-pipeline"
)

// String implements fmt.Stringer for logging.
func (e Engine) String() string { return string(e) }

// IsValid checks whether the engine is one of the defined constants.
func (e Engine) IsValid() bool {
	switch e {
	case EngineMediaDownloader, EngineRendererRemotion, EngineBurnerFFmpeg, EngineASRPipeline:
		return true
	default:
		return false
	}
}

// TargetType identifies the record a task operates on.
type TargetType string

const (
	TargetMedia   TargetType = "media"
	TargetChannel TargetType = "channel"
	TargetThread  TargetType = "thread"
	TargetSystem  TargetType = "system"
)
