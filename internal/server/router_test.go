package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tradehive/agentd/internal/events"
	"github.com/tradehive/agentd/internal/queue"
	"github.com/tradehive/agentd/internal/scheduler"
	"github.com/tradehive/agentd/internal/trading"
)

type routerEnv struct {
	url   string
	queue *queue.Queue
	sched *scheduler.Scheduler
	bus   *events.Bus
}

func newRouterServer(t *testing.T) *routerEnv {
	t.Helper()
	bus := events.NewBus()
	q := queue.New(queue.WithBus(bus), queue.WithConcurrency(2))
	sched := scheduler.New(q)
	reg := trading.NewRegistry()

	ts := httptest.NewServer(NewRouter(q, sched, reg))
	t.Cleanup(func() {
		ts.Close()
		sched.Close()
		q.Close()
	})
	return &routerEnv{url: ts.URL, queue: q, sched: sched, bus: bus}
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeJSONBody(t *testing.T, body io.ReadCloser) map[string]any {
	t.Helper()
	defer body.Close()
	var out map[string]any
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return out
}

func lookupString(m map[string]any, keys ...string) (string, bool) {
	cur := any(m)
	for i, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = obj[k]
		if !ok {
			return "", false
		}
		if i == len(keys)-1 {
			s, ok := cur.(string)
			return s, ok
		}
	}
	return "", false
}

func TestRouterEndToEnd_JobLifecycle(t *testing.T) {
	env := newRouterServer(t)

	completed := make(chan events.Event, 1)
	unsub := env.bus.Subscribe(events.KindJobCompleted, func(evt events.Event) {
		select {
		case completed <- evt:
		default:
		}
	})
	defer unsub()

	createResp := postJSON(t, env.url+"/api/v1/jobs", map[string]any{
		"type": "market.fetch",
		"data": map[string]any{"symbol": "BTC-USD", "interval": "1m", "limit": 5},
	})
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", createResp.StatusCode, http.StatusCreated)
	}
	createdBody := decodeJSONBody(t, createResp.Body)
	jobID, ok := lookupString(createdBody, "job", "id")
	if !ok || jobID == "" {
		t.Fatalf("create response missing job.id: %#v", createdBody)
	}

	select {
	case evt := <-completed:
		if evt.JobID != jobID {
			t.Fatalf("completed job id = %q, want %q", evt.JobID, jobID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job never completed")
	}
}

func TestRouterEndToEnd_PendingJobLifecycle(t *testing.T) {
	env := newRouterServer(t)
	env.queue.Pause()

	createResp := postJSON(t, env.url+"/api/v1/jobs", map[string]any{
		"id":   "router-pending",
		"type": "agent.predict",
		"data": map[string]any{"agent_id": "a1", "symbol": "ETH-USD"},
	})
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", createResp.StatusCode, http.StatusCreated)
	}
	createResp.Body.Close()

	getResp, err := http.Get(env.url + "/api/v1/jobs/router-pending")
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want %d", getResp.StatusCode, http.StatusOK)
	}
	getBody := decodeJSONBody(t, getResp.Body)
	if state, _ := lookupString(getBody, "job", "state"); state != "pending" {
		t.Fatalf("job state = %q, want %q", state, "pending")
	}

	req, _ := http.NewRequest(http.MethodDelete, env.url+"/api/v1/jobs/router-pending", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE job: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want %d", delResp.StatusCode, http.StatusOK)
	}
}

func TestRouterEndToEnd_ScheduleLifecycle(t *testing.T) {
	env := newRouterServer(t)

	createResp := postJSON(t, env.url+"/api/v1/schedules", map[string]any{
		"id":    "router-sched",
		"type":  "agent.train",
		"data":  map[string]any{"agent_id": "a1", "symbol": "BTC-USD", "epochs": 1},
		"delay": "PT1H",
	})
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", createResp.StatusCode, http.StatusCreated)
	}
	createdBody := decodeJSONBody(t, createResp.Body)
	if fireAt, _ := lookupString(createdBody, "schedule", "fire_at"); fireAt == "" {
		t.Fatalf("schedule response missing fire_at: %#v", createdBody)
	}

	getResp, err := http.Get(env.url + "/api/v1/schedules/router-sched")
	if err != nil {
		t.Fatalf("GET schedule: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want %d", getResp.StatusCode, http.StatusOK)
	}

	req, _ := http.NewRequest(http.MethodDelete, env.url+"/api/v1/schedules/router-sched", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE schedule: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want %d", delResp.StatusCode, http.StatusOK)
	}
}

func TestRouter_SystemEndpoints(t *testing.T) {
	env := newRouterServer(t)

	for _, path := range []string{"/healthz", "/api/v1/stats", "/metrics"} {
		resp, err := http.Get(env.url + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, resp.StatusCode, http.StatusOK)
		}
	}
}

func TestRouter_RejectsWrongContentType(t *testing.T) {
	env := newRouterServer(t)

	resp, err := http.Post(env.url+"/api/v1/jobs", "text/plain", bytes.NewBufferString("hi"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	env := newRouterServer(t)

	resp, err := http.Get(env.url + "/api/v1/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}
