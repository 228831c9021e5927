package metrics

import (
	"strings"
	"testing"
)

func TestRecordRequestAndExport(t *testing.T) {
	// Record a single request and ensure it appears in the export.
	RecordRequest("POST", "/api/downloads", 202, 12)

	out := Export()
	if !strings.Contains(out, "vidfetch_http_requests_total{method=\"POST\",path=\"/api/downloads\",status=\"202\"}") {
		t.Fatalf("expected HTTP request metric for POST /api/downloads in export, got:\n%s", out)
	}
	if !strings.Contains(out, "vidfetch_http_request_duration_ms_sum") || !strings.Contains(out, "vidfetch_http_request_duration_ms_count") {
		t.Fatalf("expected latency metrics headers in export, got:\n%s", out)
	}
}

func TestRecordDownloadAndSampleMetrics(t *testing.T) {
	RecordDownloadOutcome("completed")
	RecordDownloadOutcome("error")
	RecordProgressSample("bytes")
	RecordProgressSample("percent")

	out := Export()
	if !strings.Contains(out, "vidfetch_downloads_total{status=\"completed\"}") {
		t.Fatalf("expected downloads_total for completed, got:\n%s", out)
	}
	if !strings.Contains(out, "vidfetch_downloads_total{status=\"error\"}") {
		t.Fatalf("expected downloads_total for error, got:\n%s", out)
	}
	if !strings.Contains(out, "vidfetch_progress_samples_total{source=\"bytes\"}") {
		t.Fatalf("expected progress_samples_total for bytes, got:\n%s", out)
	}
}

func TestRecordStoreAndEvictionMetrics(t *testing.T) {
	RecordStoreCommit(true)
	RecordStoreCommit(false)
	RecordBroadcastDrop()
	RecordEvictions(3)

	out := Export()
	if !strings.Contains(out, "vidfetch_store_commits_total") {
		t.Fatalf("expected store_commits_total in export, got:\n%s", out)
	}
	if !strings.Contains(out, "vidfetch_store_commit_failures_total") {
		t.Fatalf("expected store_commit_failures_total in export, got:\n%s", out)
	}
	if !strings.Contains(out, "vidfetch_broadcast_drops_total") {
		t.Fatalf("expected broadcast_drops_total in export, got:\n%s", out)
	}
	if !strings.Contains(out, "vidfetch_evictions_total") {
		t.Fatalf("expected evictions_total in export, got:\n%s", out)
	}
}
