package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/selectedu/select/internal/adapters/http/api"
	"github.com/selectedu/select/internal/adapters/http/token"
	"github.com/selectedu/select/internal/adapters/repository"
	"github.com/selectedu/select/internal/app"
	"github.com/selectedu/select/internal/domain/presence"
	"github.com/selectedu/select/pkg/logger"
)

func init() {
	_ = logger.Init()
}

type testEnv struct {
	srv   *httptest.Server
	store *repository.SQLiteStore
	reg   *presence.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := repository.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	tokens, err := token.NewManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	reg := presence.NewRegistry()
	dashboard := app.NewDashboard(store, reg)
	server := api.NewServer(store, tokens, dashboard, api.WithCORSOrigin("http://localhost:3000"))

	mux := http.NewServeMux()
	server.Register(context.Background(), mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, reg: reg}
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (e *testEnv) signup(t *testing.T, name, email string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"name": name, "email": email, "password": "hunter22",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d body %v", resp.StatusCode, body)
	}
	tok, _ := body["token"].(string)
	return tok
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/admin/signup", "", map[string]any{
		"name": "Admin", "email": fmt.Sprintf("admin-%d@x.com", time.Now().UnixNano()),
		"password": "longenough", "designation": "Coordinator",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("admin signup status = %d body %v", resp.StatusCode, body)
	}
	tok, _ := body["token"].(string)
	return tok
}

func TestAuthFlows(t *testing.T) {
	Convey("Given a running API", t, func() {
		env := newTestEnv(t)

		Convey("Signup issues a token and rejects duplicates", func() {
			resp, body := env.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
				"name": "Asha", "email": "asha@example.com", "password": "hunter22",
				"schoolName": "Springfield High",
			})
			So(resp.StatusCode, ShouldEqual, http.StatusCreated)
			So(body["token"], ShouldNotBeEmpty)
			user := body["user"].(map[string]any)
			So(user["email"], ShouldEqual, "asha@example.com")
			So(user["role"], ShouldEqual, "user")

			dup, _ := env.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
				"name": "Asha Again", "email": "ASHA@example.com", "password": "hunter22",
			})
			So(dup.StatusCode, ShouldEqual, http.StatusConflict)
		})

		Convey("Signup validates its input", func() {
			resp, _ := env.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
				"name": "A", "email": "not-an-email", "password": "x",
			})
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Login checks credentials and records the session", func() {
			env.signup(t, "Asha", "asha@example.com")

			bad, _ := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
				"email": "asha@example.com", "password": "wrong",
			})
			So(bad.StatusCode, ShouldEqual, http.StatusUnauthorized)

			good, body := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
				"email": "asha@example.com", "password": "hunter22",
			})
			So(good.StatusCode, ShouldEqual, http.StatusOK)
			tok := body["token"].(string)

			me, meBody := env.do(t, http.MethodGet, "/api/auth/me", tok, nil)
			So(me.StatusCode, ShouldEqual, http.StatusOK)
			So(meBody["name"], ShouldEqual, "Asha")

			entry, err := env.store.LatestLedgerEntry(context.Background(), meBody["id"].(string))
			So(err, ShouldBeNil)
			So(entry.IsActive, ShouldBeTrue)
		})

		Convey("Logout closes the ledger entry", func() {
			env.signup(t, "Asha", "asha@example.com")
			_, body := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
				"email": "asha@example.com", "password": "hunter22",
			})
			tok := body["token"].(string)
			userID := body["user"].(map[string]any)["id"].(string)

			resp, _ := env.do(t, http.MethodPost, "/api/auth/logout", tok, nil)
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			entry, err := env.store.LatestLedgerEntry(context.Background(), userID)
			So(err, ShouldBeNil)
			So(entry.IsActive, ShouldBeFalse)
		})

		Convey("Protected routes reject missing tokens", func() {
			resp, _ := env.do(t, http.MethodGet, "/api/auth/me", "", nil)
			So(resp.StatusCode, ShouldEqual, http.StatusUnauthorized)
		})
	})
}

func TestEvaluationFlows(t *testing.T) {
	Convey("Given an authenticated user", t, func() {
		env := newTestEnv(t)
		tok := env.signup(t, "Asha", "asha@example.com")

		Convey("Start creates attempt one with the opening step", func() {
			resp, body := env.do(t, http.MethodPost, "/api/evaluation/start", tok, map[string]any{})
			So(resp.StatusCode, ShouldEqual, http.StatusCreated)
			So(body["attemptNumber"], ShouldEqual, 1)
			So(body["currentStep"], ShouldEqual, 1)
			So(body["totalSteps"], ShouldEqual, 4)
		})

		Convey("Stepping advances progress", func() {
			env.do(t, http.MethodPost, "/api/evaluation/start", tok, map[string]any{})

			resp, body := env.do(t, http.MethodPost, "/api/evaluation/step", tok, map[string]any{
				"stepNumber": 2, "stepName": "Video Review",
			})
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body["currentStep"], ShouldEqual, 2)
			So(body["stepName"], ShouldEqual, "Video Review")
			So(body["completionPercentage"], ShouldEqual, 50)
		})

		Convey("Completing stores results and returns the score summary", func() {
			env.do(t, http.MethodPost, "/api/evaluation/start", tok, map[string]any{})

			resp, body := env.do(t, http.MethodPost, "/api/evaluation/complete", tok, map[string]any{
				"results": map[string]any{
					"videos": []map[string]any{
						{"id": "v1", "title": "Cells", "score": 30},
						{"id": "v2", "title": "Forces", "score": 15},
						{"id": "v3", "title": "Waves", "score": 0},
					},
				},
			})
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body["isCompleted"], ShouldBeTrue)
			So(body["completionPercentage"], ShouldEqual, 100)

			summary := body["scoreSummary"].(map[string]any)
			So(summary["totalVideos"], ShouldEqual, 3)
			So(summary["scoredVideos"], ShouldEqual, 2)
			So(summary["totalScore"], ShouldEqual, 45)
			So(summary["topVideoId"], ShouldEqual, "v1")
		})

		Convey("Restart abandons the active session and bumps the attempt", func() {
			env.do(t, http.MethodPost, "/api/evaluation/start", tok, map[string]any{})

			resp, body := env.do(t, http.MethodPost, "/api/evaluation/restart", tok, map[string]any{})
			So(resp.StatusCode, ShouldEqual, http.StatusCreated)
			So(body["attemptNumber"], ShouldEqual, 2)
			So(body["isRestart"], ShouldBeTrue)
		})

		Convey("Export marks the active session", func() {
			env.do(t, http.MethodPost, "/api/evaluation/start", tok, map[string]any{})

			resp, body := env.do(t, http.MethodPost, "/api/evaluation/export", tok, map[string]any{
				"exportType": "pdf",
			})
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body["exported"], ShouldBeTrue)
			So(body["exportType"], ShouldEqual, "pdf")
		})

		Convey("Step without an active session is a 404", func() {
			resp, _ := env.do(t, http.MethodPost, "/api/evaluation/step", tok, map[string]any{
				"stepNumber": 2, "stepName": "Video Review",
			})
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestAdminSurfaces(t *testing.T) {
	Convey("Given an admin and a user with activity", t, func() {
		env := newTestEnv(t)
		adminTok := env.adminToken(t)
		userTok := env.signup(t, "Asha", "asha@example.com")
		env.do(t, http.MethodPost, "/api/evaluation/start", userTok, map[string]any{})

		Convey("The dashboard lists users with evaluation state", func() {
			resp, body := env.do(t, http.MethodGet, "/api/admin/dashboard", adminTok, nil)
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			users := body["users"].([]any)
			So(len(users), ShouldEqual, 1)
			row := users[0].(map[string]any)
			So(row["name"], ShouldEqual, "Asha")
			So(row["status"], ShouldEqual, "evaluating")
			So(row["currentEvaluation"], ShouldNotBeNil)
		})

		Convey("Stats aggregates counters", func() {
			resp, body := env.do(t, http.MethodGet, "/api/admin/stats", adminTok, nil)
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body["totalUsers"], ShouldEqual, 1)
			So(body["activeEvaluations"], ShouldEqual, 1)
		})

		Convey("Non-admin tokens are forbidden", func() {
			resp, _ := env.do(t, http.MethodGet, "/api/admin/dashboard", userTok, nil)
			So(resp.StatusCode, ShouldEqual, http.StatusForbidden)
		})

		Convey("Feedback round-trips through submission and listing", func() {
			create, _ := env.do(t, http.MethodPost, "/api/feedback", userTok, map[string]any{
				"feedback": "The video player stutters on step 2", "category": "technical",
			})
			So(create.StatusCode, ShouldEqual, http.StatusCreated)

			resp, body := env.do(t, http.MethodGet, "/api/admin/feedback?status=pending", adminTok, nil)
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body["totalFeedback"], ShouldEqual, 1)
			items := body["feedback"].([]any)
			So(items[0].(map[string]any)["userName"], ShouldEqual, "Asha")
		})

		Convey("Feedback longer than 2000 characters is rejected", func() {
			resp, _ := env.do(t, http.MethodPost, "/api/feedback", userTok, map[string]any{
				"feedback": strings.Repeat("a", 2001),
			})
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestHealthAndCORS(t *testing.T) {
	Convey("Given a running API", t, func() {
		env := newTestEnv(t)

		Convey("healthz answers ok", func() {
			resp, body := env.do(t, http.MethodGet, "/healthz", "", nil)
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body["status"], ShouldEqual, "ok")
		})

		Convey("Preflight requests get CORS headers", func() {
			req, _ := http.NewRequest(http.MethodOptions, env.srv.URL+"/api/auth/login", nil)
			resp, err := http.DefaultClient.Do(req)
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusNoContent)
			So(resp.Header.Get("Access-Control-Allow-Origin"), ShouldEqual, "http://localhost:3000")
		})
	})
}
