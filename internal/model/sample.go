package model

// SampleKind discriminates the shape of a raw progress signal coming
// out of the external extraction tool.
type SampleKind int

const (
	// SamplePercent carries only the renderer's percent string,
	// possibly wrapped in ANSI escapes (e.g. " 42.3%").
	SamplePercent SampleKind = iota
	// SampleBytes carries downloaded/total byte counts.
	SampleBytes
	// SampleFragments carries fragment index/count for segmented
	// (HLS/DASH) downloads.
	SampleFragments
	// SampleFinished signals the tool finished its transfer phase.
	// Post-processing may still be running, so this is not completion.
	SampleFinished
	// SampleError carries a tool-reported error message.
	SampleError
	// SampleReconnecting signals the tool dropped and is re-dialing;
	// earlier progress is still valid.
	SampleReconnecting
)

// ProgressSample is the tagged, typed form of one raw progress event.
// It is constructed exactly once at the downloader boundary so nothing
// downstream inspects loosely-typed event maps.
type ProgressSample struct {
	Kind          SampleKind
	PercentString string
	Downloaded    int64
	Total         int64
	FragmentIndex int64
	FragmentCount int64
	ErrorMessage  string
}
