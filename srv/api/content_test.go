package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tutorforge/tutorforge/llm"
)

// Structured-output replies for a one-module, one-chapter, three-page run.
const (
	planDraft = `{"name": "Practical Go", "description": "Hands-on Go for an intermediate learner.", "modules": [{"name": "Concurrency", "description": "Goroutines and channels.", "chapters": [{"title": "Goroutines", "description": "Lightweight threads."}]}]}`

	planVerdict = "Covers the learner's goals well. APPROVE"

	chapterOutline = `{"title": "Goroutines", "description": "Lightweight threads.", "pages": [{"title": "Starting goroutines", "description": "The go statement."}, {"title": "Waiting for work", "description": "WaitGroups."}, {"title": "Common pitfalls", "description": "Leaks and races."}]}`

	pageBody = `{"title": "draft title", "description": "draft description", "content": "Body text."}`

	summaryBody = `{"summary": "Module recap."}`

	quizBody = `{"questions": [{"question_type": "multiple_choice", "question": "Which keyword starts a goroutine?", "multiple_choice": ["go", "run", "spawn"], "answer": "go"}]}`
)

// driveAssessment walks a session through start, one answered question, and
// completion, returning the session id.
func driveAssessment(t *testing.T, srv *Server, mock *llm.MockProvider) string {
	t.Helper()

	mock.TextResponse(firstQuestion)
	rec := request(t, srv, http.MethodPost, "/api/assessment/start", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body.String())
	}
	id := decodeBody(t, rec)["session_id"].(string)

	pollBody(t, srv, "/api/assessment/question", id, func(m map[string]any) bool {
		_, ok := m["question"]
		return ok
	})

	mock.TextResponse(finalTurn)
	rec = request(t, srv, http.MethodPost, "/api/assessment/answer", id, `{"answer": "I want to learn Go."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("answer status = %d: %s", rec.Code, rec.Body.String())
	}

	pollBody(t, srv, "/api/assessment/result", id, func(m map[string]any) bool {
		c, _ := m["complete"].(bool)
		return c
	})
	return id
}

func TestContentStartBeforeAssessmentComplete(t *testing.T) {
	srv, mock, _, _ := newTestServer(t)

	mock.TextResponse(firstQuestion)
	rec := request(t, srv, http.MethodPost, "/api/assessment/start", "", "")
	id := decodeBody(t, rec)["session_id"].(string)

	rec = request(t, srv, http.MethodPost, "/api/content/start", id, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	if _, ok := decodeBody(t, rec)["error"]; !ok {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestContentStatusBeforeStart(t *testing.T) {
	srv, mock, _, _ := newTestServer(t)
	id := driveAssessment(t, srv, mock)

	rec := request(t, srv, http.MethodGet, "/api/content/status", id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	assertKeys(t, body, "success", "progress")
	progress := body["progress"].(map[string]any)
	assertKeys(t, progress, "status", "percentage", "started_at", "completed_at", "error_message", "modules")
	if progress["status"] != "not_started" || progress["percentage"] != float64(0) {
		t.Fatalf("progress = %v", progress)
	}
	if progress["started_at"] != nil || progress["error_message"] != nil {
		t.Fatalf("fresh progress carries data: %v", progress)
	}
}

func TestContentStatusUnknownSession(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := request(t, srv, http.MethodGet, "/api/content/status", "ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", rec.Code, rec.Body.String())
	}
}

func TestContentRetryUnknownSession(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := request(t, srv, http.MethodPost, "/api/content/retry", "", `{"session_id": "ghost"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", rec.Code, rec.Body.String())
	}
}

func TestContentStartSessionIDFromBody(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := request(t, srv, http.MethodPost, "/api/content/start", "", `{"session_id": "ghost"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (body session id reached the lookup): %s", rec.Code, rec.Body.String())
	}
}

// TestFullFlowOverHTTP drives the whole product surface through a real
// server with a cookie jar: assessment to completion, then content creation
// to a served course document.
func TestFullFlowOverHTTP(t *testing.T) {
	srv, mock, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar, Timeout: 5 * time.Second}

	get := func(path string) (int, map[string]any) {
		t.Helper()
		resp, err := client.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		var m map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
			t.Fatalf("GET %s: decoding: %v", path, err)
		}
		return resp.StatusCode, m
	}
	post := func(path, body string) (int, map[string]any) {
		t.Helper()
		resp, err := client.Post(ts.URL+path, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		defer resp.Body.Close()
		var m map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
			t.Fatalf("POST %s: decoding: %v", path, err)
		}
		return resp.StatusCode, m
	}
	pollFor := func(path string, done func(map[string]any) bool) map[string]any {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if code, m := get(path); code == http.StatusOK && done(m) {
				return m
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("timed out polling %s", path)
		return nil
	}

	// Assessment, carried entirely by the cookie.
	mock.TextResponse(firstQuestion)
	code, body := post("/api/assessment/start", "")
	if code != http.StatusOK {
		t.Fatalf("start: %d %v", code, body)
	}
	id := body["session_id"].(string)

	pollFor("/api/assessment/question", func(m map[string]any) bool {
		_, ok := m["question"]
		return ok
	})
	mock.TextResponse(finalTurn)
	if code, body = post("/api/assessment/answer", `{"answer": "I want to learn Go."}`); code != http.StatusOK {
		t.Fatalf("answer: %d %v", code, body)
	}
	pollFor("/api/assessment/result", func(m map[string]any) bool {
		c, _ := m["complete"].(bool)
		return c
	})

	// Content creation: plan, review, chapter outline, pages, summary, quiz.
	mock.TextResponse(planDraft)
	mock.TextResponse(planVerdict)
	mock.TextResponse(chapterOutline)
	for i := 0; i < 3; i++ {
		mock.TextResponse(pageBody)
	}
	mock.TextResponse(summaryBody)
	mock.TextResponse(quizBody)

	code, body = post("/api/content/start", "")
	if code != http.StatusOK {
		t.Fatalf("content start: %d %v", code, body)
	}
	if body["message"] != msgContentStarted || body["session_id"] != id {
		t.Fatalf("content start body = %v", body)
	}

	status := pollFor("/api/content/status", func(m map[string]any) bool {
		p, ok := m["progress"].(map[string]any)
		return ok && p["status"] == "completed"
	})
	progress := status["progress"].(map[string]any)
	if progress["percentage"] != float64(100) {
		t.Fatalf("percentage = %v", progress["percentage"])
	}
	if progress["error_message"] != nil || progress["completed_at"] == nil {
		t.Fatalf("completed progress = %v", progress)
	}
	modules := progress["modules"].([]any)
	if len(modules) != 1 {
		t.Fatalf("modules = %v", modules)
	}
	mod := modules[0].(map[string]any)
	if mod["name"] != "Concurrency" || mod["has_summary"] != true || mod["has_quiz"] != true {
		t.Fatalf("module progress = %v", mod)
	}
	chapters := mod["chapters"].([]any)
	ch := chapters[0].(map[string]any)
	if ch["has_plan"] != true || ch["pages_completed"] != float64(3) {
		t.Fatalf("chapter progress = %v", ch)
	}

	// The finished course is served from the data routes.
	code, courseBody := get(fmt.Sprintf("/data/runs/%s/course.json", id))
	if code != http.StatusOK {
		t.Fatalf("course fetch: %d %v", code, courseBody)
	}
	if courseBody["name"] != "Practical Go" || courseBody["run_id"] != id {
		t.Fatalf("course = %v", courseBody)
	}

	// Starting again conflicts; retrying a completed job is a no-op.
	if code, body = post("/api/content/start", ""); code != http.StatusConflict {
		t.Fatalf("restart: %d %v", code, body)
	}
	code, body = post("/api/content/retry", "")
	if code != http.StatusOK || body["message"] != msgContentRestarted {
		t.Fatalf("retry: %d %v", code, body)
	}
}
