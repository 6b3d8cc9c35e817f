package metric

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry_Builds(t *testing.T) {
	r := NewRegistry()
	r.BuildFinished("master", "ok", 2*time.Second)
	r.BuildFinished("master", "ok", time.Second)
	r.BuildFinished("branch", "partial", time.Second)
	r.ClassFinished("ok", 100)
	r.ClassFinished("failed", 0)

	if got := testutil.ToFloat64(r.buildsTotal.WithLabelValues("master", "ok")); got != 2 {
		t.Errorf("builds_total{master,ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.buildsTotal.WithLabelValues("branch", "partial")); got != 1 {
		t.Errorf("builds_total{branch,partial} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.bytesWritten); got != 100 {
		t.Errorf("snapshot_bytes_written_total = %v, want 100", got)
	}
	if got := testutil.ToFloat64(r.classesTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("build_classes_total{failed} = %v, want 1", got)
	}
}

func TestRegistry_Streams(t *testing.T) {
	r := NewRegistry()
	r.StreamOpened()
	r.StreamOpened()
	r.StreamClosed("ok", 512)

	if got := testutil.ToFloat64(r.streamsActive); got != 1 {
		t.Errorf("fetch_streams_active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.fetchBytes); got != 512 {
		t.Errorf("fetch_bytes_total = %v, want 512", got)
	}
	if got := testutil.ToFloat64(r.fetchTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("fetch_total{ok} = %v, want 1", got)
	}
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.ObserveRequest("GET /mdm/{zone}/{suffix}", 200, 10*time.Millisecond)
	r.ObserveRequest("", 404, time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`mdm_http_requests_total{code="200",route="GET /mdm/{zone}/{suffix}"} 1`,
		`mdm_http_requests_total{code="404",route="unmatched"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output lacks %s", want)
		}
	}
}
