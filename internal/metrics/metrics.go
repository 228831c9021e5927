package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the download service.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	downloadsTotal       = make(map[string]int64)
	progressSamplesTotal = make(map[string]int64)

	storeCommitsTotal        int64
	storeCommitFailuresTotal int64

	broadcastDropsTotal int64
	evictionsTotal      int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordDownloadOutcome counts downloads that reached a terminal status.
func RecordDownloadOutcome(status string) {
	mu.Lock()
	defer mu.Unlock()
	downloadsTotal[status]++
}

// RecordProgressSample counts one reconciled progress sample by the
// signal source that produced it (percent, bytes, fragments, synthetic).
func RecordProgressSample(source string) {
	mu.Lock()
	defer mu.Unlock()
	progressSamplesTotal[source]++
}

// RecordStoreCommit counts durable commit attempts by outcome.
func RecordStoreCommit(ok bool) {
	mu.Lock()
	defer mu.Unlock()
	if ok {
		storeCommitsTotal++
	} else {
		storeCommitFailuresTotal++
	}
}

// RecordBroadcastDrop counts snapshots dropped from slow subscriber
// queues.
func RecordBroadcastDrop() {
	mu.Lock()
	defer mu.Unlock()
	broadcastDropsTotal++
}

// RecordEvictions counts job records removed by the retention sweep.
func RecordEvictions(n int64) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	evictionsTotal += n
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP vidfetch_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE vidfetch_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "vidfetch_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP vidfetch_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE vidfetch_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP vidfetch_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE vidfetch_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		sum := latencyMsSum[k]
		cnt := latencyMsCount[k]
		fmt.Fprintf(&b, "vidfetch_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, sum)
		fmt.Fprintf(&b, "vidfetch_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, cnt)
	}

	b.WriteString("# HELP vidfetch_downloads_total Downloads that reached a terminal status\n")
	b.WriteString("# TYPE vidfetch_downloads_total counter\n")
	var dlKeys []string
	for k := range downloadsTotal {
		dlKeys = append(dlKeys, k)
	}
	sort.Strings(dlKeys)
	for _, k := range dlKeys {
		fmt.Fprintf(&b, "vidfetch_downloads_total{status=\"%s\"} %d\n", k, downloadsTotal[k])
	}

	b.WriteString("# HELP vidfetch_progress_samples_total Reconciled progress samples by source\n")
	b.WriteString("# TYPE vidfetch_progress_samples_total counter\n")
	var srcKeys []string
	for k := range progressSamplesTotal {
		srcKeys = append(srcKeys, k)
	}
	sort.Strings(srcKeys)
	for _, k := range srcKeys {
		fmt.Fprintf(&b, "vidfetch_progress_samples_total{source=\"%s\"} %d\n", k, progressSamplesTotal[k])
	}

	b.WriteString("# HELP vidfetch_store_commits_total Durable state commits\n")
	b.WriteString("# TYPE vidfetch_store_commits_total counter\n")
	fmt.Fprintf(&b, "vidfetch_store_commits_total %d\n", storeCommitsTotal)
	b.WriteString("# HELP vidfetch_store_commit_failures_total State commits that failed after retry\n")
	b.WriteString("# TYPE vidfetch_store_commit_failures_total counter\n")
	fmt.Fprintf(&b, "vidfetch_store_commit_failures_total %d\n", storeCommitFailuresTotal)

	b.WriteString("# HELP vidfetch_broadcast_drops_total Snapshots dropped from full subscriber queues\n")
	b.WriteString("# TYPE vidfetch_broadcast_drops_total counter\n")
	fmt.Fprintf(&b, "vidfetch_broadcast_drops_total %d\n", broadcastDropsTotal)

	b.WriteString("# HELP vidfetch_evictions_total Job records removed by retention sweeps\n")
	b.WriteString("# TYPE vidfetch_evictions_total counter\n")
	fmt.Fprintf(&b, "vidfetch_evictions_total %d\n", evictionsTotal)

	return b.String()
}
