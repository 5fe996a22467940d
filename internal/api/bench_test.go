package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func BenchmarkJobCreate(b *testing.B) {
	env := newTestEnv(b)
	h := NewJobHandler(env.queue, env.registry)
	body := `{"type":"test.noop","data":{"k":"v"}}`

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
		rr := httptest.NewRecorder()
		h.Create(rr, req)
	}
}

func BenchmarkJobGet(b *testing.B) {
	env := newTestEnv(b)
	h := NewJobHandler(env.queue, env.registry)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/missing", nil), "id", "missing")
		rr := httptest.NewRecorder()
		h.Get(rr, req)
	}
}

func BenchmarkHealthCheck(b *testing.B) {
	env := newTestEnv(b)
	h := NewSystemHandler(env.sched)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rr := httptest.NewRecorder()
		h.Health(rr, req)
	}
}

func BenchmarkStats(b *testing.B) {
	env := newTestEnv(b)
	h := NewSystemHandler(env.sched)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
		rr := httptest.NewRecorder()
		h.Stats(rr, req)
	}
}
