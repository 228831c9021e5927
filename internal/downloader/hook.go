package downloader

import (
	"strconv"
	"strings"

	"vidfetch/internal/model"
)

// SampleFromEvent converts one loosely-typed progress event from the
// extraction tool into a tagged sample. Events carry any subset of
// {status, _percent_str, downloaded_bytes, total_bytes,
// total_bytes_estimate, fragment_index, fragment_count, error}; every
// field is optional and values may be strings, numbers, or "NA". This
// is the only place that inspects untyped event maps.
func SampleFromEvent(ev map[string]any) model.ProgressSample {
	if msg, ok := stringField(ev, "error"); ok && msg != "" {
		return model.ProgressSample{Kind: model.SampleError, ErrorMessage: msg}
	}

	status, _ := stringField(ev, "status")
	switch status {
	case "finished":
		return model.ProgressSample{Kind: model.SampleFinished}
	case "error":
		msg, _ := stringField(ev, "error")
		return model.ProgressSample{Kind: model.SampleError, ErrorMessage: msg}
	case "reconnecting":
		return model.ProgressSample{Kind: model.SampleReconnecting}
	}

	if idx, okIdx := numField(ev, "fragment_index"); okIdx {
		if count, okCount := numField(ev, "fragment_count"); okCount && count > 0 {
			return model.ProgressSample{Kind: model.SampleFragments, FragmentIndex: idx, FragmentCount: count}
		}
	}

	if downloaded, ok := numField(ev, "downloaded_bytes"); ok {
		total, okTotal := numField(ev, "total_bytes")
		if !okTotal {
			total, okTotal = numField(ev, "total_bytes_estimate")
		}
		if okTotal && total > 0 {
			return model.ProgressSample{Kind: model.SampleBytes, Downloaded: downloaded, Total: total}
		}
	}

	if pct, ok := stringField(ev, "_percent_str"); ok {
		return model.ProgressSample{Kind: model.SamplePercent, PercentString: pct}
	}

	// Nothing usable; the reconciler holds progress (or applies the
	// synthetic policy if enabled).
	return model.ProgressSample{Kind: model.SamplePercent}
}

func stringField(ev map[string]any, key string) (string, bool) {
	v, ok := ev[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	if s == "NA" || s == "null" {
		return "", false
	}
	return s, true
}

func numField(ev map[string]any, key string) (int64, bool) {
	v, ok := ev[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		s := strings.TrimSpace(n)
		if s == "" || s == "NA" || s == "null" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}
