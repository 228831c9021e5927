package downloader

import (
	"testing"

	"vidfetch/internal/model"
)

func TestSampleFromEventFinished(t *testing.T) {
	s := SampleFromEvent(map[string]any{"status": "finished"})
	if s.Kind != model.SampleFinished {
		t.Fatalf("expected finished sample, got %v", s.Kind)
	}
}

func TestSampleFromEventErrorField(t *testing.T) {
	s := SampleFromEvent(map[string]any{"status": "downloading", "error": "403 forbidden"})
	if s.Kind != model.SampleError || s.ErrorMessage != "403 forbidden" {
		t.Fatalf("expected error sample, got %+v", s)
	}
}

func TestSampleFromEventFragmentsWinOverBytes(t *testing.T) {
	s := SampleFromEvent(map[string]any{
		"status":           "downloading",
		"fragment_index":   float64(3),
		"fragment_count":   float64(10),
		"downloaded_bytes": float64(500),
		"total_bytes":      float64(1000),
	})
	if s.Kind != model.SampleFragments || s.FragmentIndex != 3 || s.FragmentCount != 10 {
		t.Fatalf("expected fragment sample, got %+v", s)
	}
}

func TestSampleFromEventBytesWithEstimate(t *testing.T) {
	s := SampleFromEvent(map[string]any{
		"status":               "downloading",
		"downloaded_bytes":     "2048",
		"total_bytes":          "NA",
		"total_bytes_estimate": "4096",
	})
	if s.Kind != model.SampleBytes || s.Downloaded != 2048 || s.Total != 4096 {
		t.Fatalf("expected byte sample from estimate, got %+v", s)
	}
}

func TestSampleFromEventPercentFallback(t *testing.T) {
	s := SampleFromEvent(map[string]any{
		"status":           "downloading",
		"_percent_str":     " 12.3%",
		"downloaded_bytes": "NA",
		"total_bytes":      "NA",
	})
	if s.Kind != model.SamplePercent || s.PercentString != " 12.3%" {
		t.Fatalf("expected percent sample, got %+v", s)
	}
}

func TestSampleFromEventReconnecting(t *testing.T) {
	s := SampleFromEvent(map[string]any{"status": "reconnecting"})
	if s.Kind != model.SampleReconnecting {
		t.Fatalf("expected reconnecting sample, got %+v", s)
	}
}

func TestSampleFromEventEmpty(t *testing.T) {
	s := SampleFromEvent(map[string]any{})
	if s.Kind != model.SamplePercent || s.PercentString != "" {
		t.Fatalf("expected empty percent sample for signal-less event, got %+v", s)
	}
}
