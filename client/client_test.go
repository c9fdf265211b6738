package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tutorforge/tutorforge/errx"
)

func jsonReply(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func TestAPIErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    errx.Kind
		message string
	}{
		{"not found", http.StatusNotFound, `{"error": "No active assessment session"}`, errx.KindNotFound, "No active assessment session"},
		{"bad input", http.StatusBadRequest, `{"error": "Answer is required"}`, errx.KindInvalidInput, "Answer is required"},
		{"conflict", http.StatusConflict, `{"error": "content creation already completed for session s-1"}`, errx.KindConflict, "content creation already completed for session s-1"},
		{"upstream", http.StatusBadGateway, `{"error": "model call failed"}`, errx.KindUpstreamFailure, "model call failed"},
		{"integrity", http.StatusInternalServerError, `{"error": "stored assessment is corrupt"}`, errx.KindDataIntegrity, "stored assessment is corrupt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				jsonReply(w, tt.status, tt.body)
			}))
			defer srv.Close()

			c, err := New(srv.URL)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = c.NextQuestion(context.Background())
			if !errx.IsKind(err, tt.kind) {
				t.Fatalf("kind = %v, want %v (err: %v)", errx.KindOf(err), tt.kind, err)
			}
			var e *errx.Error
			if !errors.As(err, &e) {
				t.Fatalf("error is %T, want *errx.Error", err)
			}
			if e.Message != tt.message {
				t.Errorf("message = %q, want %q", e.Message, tt.message)
			}
		})
	}
}

func TestTransportErrors(t *testing.T) {
	t.Run("unstructured error body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}))
		defer srv.Close()

		c, err := New(srv.URL)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		_, err = c.NextQuestion(context.Background())
		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("error is %T, want *TransportError: %v", err, err)
		}
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		c, err := New(url)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		_, err = c.StartAssessment(context.Background())
		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("error is %T, want *TransportError: %v", err, err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			jsonReply(w, http.StatusOK, `{"success": true}`)
		}))
		defer srv.Close()

		jar, err := cookiejar.New(nil)
		if err != nil {
			t.Fatalf("cookiejar: %v", err)
		}
		c, err := New(srv.URL, WithHTTPClient(&http.Client{Jar: jar, Timeout: 30 * time.Millisecond}))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		_, err = c.NextQuestion(context.Background())
		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("error is %T, want *TransportError: %v", err, err)
		}
	})

	t.Run("garbled success body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			jsonReply(w, http.StatusOK, `{"success": tru`)
		}))
		defer srv.Close()

		c, err := New(srv.URL)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		_, err = c.Result(context.Background())
		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("error is %T, want *TransportError: %v", err, err)
		}
	})
}

func TestSessionCookieCarried(t *testing.T) {
	gotCookie := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/assessment/start", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "s-123", Path: "/"})
		jsonReply(w, http.StatusOK, `{"success": true, "session_id": "s-123", "message": "started"}`)
	})
	mux.HandleFunc("GET /api/assessment/question", func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie("session_id"); err == nil {
			gotCookie <- ck.Value
		} else {
			gotCookie <- ""
		}
		jsonReply(w, http.StatusOK, `{"success": true, "assessment_complete": false, "processing": true, "progress": {"total": 5, "answered": 0}, "message": "working"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ack, err := c.StartAssessment(context.Background())
	if err != nil {
		t.Fatalf("StartAssessment: %v", err)
	}
	if ack.SessionID != "s-123" {
		t.Fatalf("SessionID = %q, want s-123", ack.SessionID)
	}

	view, err := c.NextQuestion(context.Background())
	if err != nil {
		t.Fatalf("NextQuestion: %v", err)
	}
	if !view.Processing || view.Progress == nil || view.Progress.Total != 5 {
		t.Errorf("unexpected poll view: %+v", view)
	}
	if got := <-gotCookie; got != "s-123" {
		t.Errorf("question request carried cookie %q, want s-123", got)
	}
}

func TestSubmitAnswerPayloads(t *testing.T) {
	var received string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/assessment/answer", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		received = string(data)
		jsonReply(w, http.StatusOK, `{"success": true, "message": "Answer submitted successfully", "has_next_question": false, "next_question": null}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	receipt, err := c.SubmitAnswer(context.Background(), "I want to learn Go.")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if received != `{"answer":"I want to learn Go."}` {
		t.Errorf("request body = %s", received)
	}
	if receipt.Message != "Answer submitted successfully" {
		t.Errorf("message = %q", receipt.Message)
	}
	if receipt.HasNext || receipt.NextQuestion != nil {
		t.Errorf("receipt = %+v, want no next question", receipt)
	}
}

func TestContentStatusRequiresProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonReply(w, http.StatusOK, `{"success": true}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.ContentStatus(context.Background())
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error is %T, want *TransportError: %v", err, err)
	}
}

func TestCourseEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /data/runs", func(w http.ResponseWriter, r *http.Request) {
		jsonReply(w, http.StatusOK, `[{"name": "Practical Go", "description": "", "modules": [], "created_at": "2026-08-25T10:00:00Z", "run_id": "run-1"}]`)
	})
	mux.HandleFunc("GET /data/runs/run-1/course.json", func(w http.ResponseWriter, r *http.Request) {
		jsonReply(w, http.StatusOK, `{"name": "Practical Go", "description": "", "modules": [], "created_at": "2026-08-25T10:00:00Z", "run_id": "run-1"}`)
	})
	mux.HandleFunc("GET /data/runs/ghost/course.json", func(w http.ResponseWriter, r *http.Request) {
		jsonReply(w, http.StatusNotFound, `{"error": "Course not found"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runs, err := c.Runs(context.Background())
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "run-1" {
		t.Fatalf("runs = %+v", runs)
	}

	got, err := c.Course(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Course: %v", err)
	}
	if got.Name != "Practical Go" {
		t.Errorf("course name = %q", got.Name)
	}

	_, err = c.Course(context.Background(), "ghost")
	if !errx.IsKind(err, errx.KindNotFound) {
		t.Errorf("missing course kind = %v, want %v", errx.KindOf(err), errx.KindNotFound)
	}
}
