package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/topkboard/internal/adapters/http/api"
	service "github.com/okian/topkboard/internal/app"
	"github.com/okian/topkboard/internal/domain/admission"
	"github.com/okian/topkboard/internal/domain/model"
)

type mockDeps struct {
	lastReq   model.IngestRequest
	result    model.IngestResult
	submitErr error

	snap    model.Snapshot
	limit   int
	rank    model.Entry
	rankErr error

	report    model.DriftReport
	reconErr  error
	resyncErr error
	resyncs   int
}

func (m *mockDeps) Submit(_ context.Context, req model.IngestRequest) (model.IngestResult, error) {
	m.lastReq = req
	return m.result, m.submitErr
}

func (m *mockDeps) Snapshot(_ context.Context, limit int) model.Snapshot {
	m.limit = limit
	if limit <= 0 {
		return m.snap
	}
	return m.snap.Limit(limit)
}

func (m *mockDeps) Rank(_ context.Context, _ string) (model.Entry, error) {
	return m.rank, m.rankErr
}

func (m *mockDeps) Reconcile(context.Context) (model.DriftReport, error) {
	return m.report, m.reconErr
}

func (m *mockDeps) Resync(context.Context) error {
	m.resyncs++
	return m.resyncErr
}

func (m *mockDeps) Stats(context.Context) service.Stats {
	return service.Stats{Started: true, K: 10, Version: m.snap.Version}
}

func newMux(deps *mockDeps) http.Handler {
	mux := http.NewServeMux()
	api.NewServer(deps, api.WithMaxLimit(50)).Register(context.Background(), mux)
	return api.RequestIDMiddleware(mux)
}

func do(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

const eventBody = `{"delta":5,"actionType":"match.win","actionTokenId":"tok-1","clientMetadata":{"level":3}}`

func authHeaders() map[string]string {
	return map[string]string{api.HeaderUserID: "alice", api.HeaderActionProof: "proof", api.HeaderSourceID: "src-1"}
}

func TestPostEvent(t *testing.T) {
	Convey("Given the events endpoint", t, func() {
		deps := &mockDeps{result: model.IngestResult{EventID: "01J", NewScore: 42, LeaderboardChanged: true}}
		h := newMux(deps)

		Convey("When a valid event is posted", func() {
			w := do(h, http.MethodPost, "/events", eventBody, authHeaders())

			Convey("Then the request is forwarded and the result returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastReq.UserID, ShouldEqual, "alice")
				So(deps.lastReq.SourceID, ShouldEqual, "src-1")
				So(deps.lastReq.Proof, ShouldEqual, "proof")
				So(deps.lastReq.Delta, ShouldEqual, 5)
				So(deps.lastReq.ActionTokenID, ShouldEqual, "tok-1")
				So(string(deps.lastReq.ClientMetadata), ShouldEqual, `{"level":3}`)

				var got map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
				So(got["eventId"], ShouldEqual, "01J")
				So(got["newScore"], ShouldEqual, float64(42))
				So(got["leaderboardChanged"], ShouldEqual, true)
				So(w.Header().Get(api.HeaderIdempotentReplay), ShouldBeEmpty)
				So(w.Header().Get(api.HeaderRequestID), ShouldNotBeEmpty)
			})
		})

		Convey("When the proof comes as a bearer token and no source header is set", func() {
			w := do(h, http.MethodPost, "/events", eventBody, map[string]string{
				api.HeaderUserID: "alice", "Authorization": "Bearer abc",
			})

			Convey("Then the proof and remote address are used", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastReq.Proof, ShouldEqual, "abc")
				So(deps.lastReq.SourceID, ShouldEqual, "192.0.2.1")
			})
		})

		Convey("When the submission is a duplicate", func() {
			deps.result = model.IngestResult{EventID: "01J", NewScore: 42}.Replay()
			w := do(h, http.MethodPost, "/events", eventBody, authHeaders())

			Convey("Then the replay header is set", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get(api.HeaderIdempotentReplay), ShouldEqual, "true")
			})
		})

		Convey("When identity or proof is missing", func() {
			w1 := do(h, http.MethodPost, "/events", eventBody, map[string]string{api.HeaderActionProof: "p"})
			w2 := do(h, http.MethodPost, "/events", eventBody, map[string]string{api.HeaderUserID: "alice"})

			Convey("Then the request is unauthorized", func() {
				So(w1.Code, ShouldEqual, http.StatusUnauthorized)
				So(w2.Code, ShouldEqual, http.StatusUnauthorized)
			})
		})

		Convey("When the body is malformed", func() {
			w := do(h, http.MethodPost, "/events", `{"delta":"five"}`, authHeaders())
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			w = do(h, http.MethodPost, "/events", `{"delta":5,"unknown":1}`, authHeaders())
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the method is wrong", func() {
			w := do(h, http.MethodGet, "/events", "", nil)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When the pipeline rejects the event", func() {
			cases := []struct {
				err    error
				status int
				code   string
			}{
				{model.Wrap(model.ErrValidation, errors.New("bad delta")), http.StatusBadRequest, "validation_error"},
				{model.Wrap(model.ErrAuth, errors.New("expired")), http.StatusUnauthorized, "auth_error"},
				{model.Wrap(model.ErrAuth, admission.ErrSubjectMismatch), http.StatusForbidden, "subject_mismatch"},
				{model.Wrap(model.ErrRateLimited, errors.New("slow down")), http.StatusTooManyRequests, "rate_limited"},
				{model.Wrap(model.ErrStoreUnavailable, errors.New("db down")), http.StatusServiceUnavailable, "store_unavailable"},
				{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
			}
			for _, tc := range cases {
				deps.submitErr = tc.err
				w := do(h, http.MethodPost, "/events", eventBody, authHeaders())
				So(w.Code, ShouldEqual, tc.status)

				var got map[string]string
				So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
				So(got["code"], ShouldEqual, tc.code)
				if tc.status == http.StatusTooManyRequests || tc.status == http.StatusServiceUnavailable {
					So(w.Header().Get("Retry-After"), ShouldEqual, "1")
				}
			}
		})
	})
}

func TestGetLeaderboard(t *testing.T) {
	Convey("Given a leaderboard at version 7", t, func() {
		deps := &mockDeps{snap: model.Snapshot{
			Version:     7,
			GeneratedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Entries: []model.Entry{
				{Rank: 1, UserID: "b", Score: 105},
				{Rank: 2, UserID: "a", Score: 100},
			},
		}}
		h := newMux(deps)

		Convey("When it is fetched without conditions", func() {
			w := do(h, http.MethodGet, "/leaderboard", "", nil)

			Convey("Then the snapshot and its ETag are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("ETag"), ShouldEqual, `"v7"`)
				var snap model.Snapshot
				So(json.Unmarshal(w.Body.Bytes(), &snap), ShouldBeNil)
				So(snap.Version, ShouldEqual, 7)
				So(snap.Entries, ShouldResemble, deps.snap.Entries)
			})
		})

		Convey("When a limit is given", func() {
			w := do(h, http.MethodGet, "/leaderboard?limit=1", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.limit, ShouldEqual, 1)
			var snap model.Snapshot
			So(json.Unmarshal(w.Body.Bytes(), &snap), ShouldBeNil)
			So(snap.Entries, ShouldHaveLength, 1)
		})

		Convey("When the limit is invalid or too large", func() {
			So(do(h, http.MethodGet, "/leaderboard?limit=0", "", nil).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodGet, "/leaderboard?limit=x", "", nil).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodGet, "/leaderboard?limit=51", "", nil).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodGet, "/leaderboard?known_version=x", "", nil).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the caller already holds the current version", func() {
			byQuery := do(h, http.MethodGet, "/leaderboard?known_version=7", "", nil)
			byTag := do(h, http.MethodGet, "/leaderboard", "", map[string]string{"If-None-Match": `W/"v7"`})
			stale := do(h, http.MethodGet, "/leaderboard?known_version=6", "", nil)

			Convey("Then it is told nothing changed", func() {
				So(byQuery.Code, ShouldEqual, http.StatusNotModified)
				So(byQuery.Body.Len(), ShouldEqual, 0)
				So(byTag.Code, ShouldEqual, http.StatusNotModified)
				So(stale.Code, ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestGetRank(t *testing.T) {
	Convey("Given the rank endpoint", t, func() {
		deps := &mockDeps{rank: model.Entry{Rank: 3, UserID: "alice", Score: 12}}
		h := newMux(deps)

		Convey("When a known user is requested", func() {
			w := do(h, http.MethodGet, "/rank/alice", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var e model.Entry
			So(json.Unmarshal(w.Body.Bytes(), &e), ShouldBeNil)
			So(e, ShouldResemble, deps.rank)
		})

		Convey("When the user is unknown", func() {
			deps.rankErr = service.ErrUserNotFound
			So(do(h, http.MethodGet, "/rank/nobody", "", nil).Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When the path is malformed", func() {
			So(do(h, http.MethodGet, "/rank/", "", nil).Code, ShouldEqual, http.StatusBadRequest)
			So(do(h, http.MethodGet, "/rank/a/b", "", nil).Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestAdminAndStats(t *testing.T) {
	Convey("Given the admin endpoints", t, func() {
		deps := &mockDeps{report: model.DriftReport{DriftDetected: true, Version: 4}}
		h := newMux(deps)

		Convey("When reconcile is triggered", func() {
			w := do(h, http.MethodPost, "/admin/reconcile", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			var got map[string]any
			So(json.Unmarshal(w.Body.Bytes(), &got), ShouldBeNil)
			So(got["driftDetected"], ShouldEqual, true)
			So(do(h, http.MethodGet, "/admin/reconcile", "", nil).Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When reconcile is not configured", func() {
			deps.reconErr = service.ErrReconcileDisabled
			So(do(h, http.MethodPost, "/admin/reconcile", "", nil).Code, ShouldEqual, http.StatusNotImplemented)
		})

		Convey("When a resync is requested", func() {
			w := do(h, http.MethodPost, "/admin/resync", "", nil)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(deps.resyncs, ShouldEqual, 1)
		})

		Convey("When stats are read", func() {
			w := do(h, http.MethodGet, "/stats", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
		})

		Convey("When metrics are scraped", func() {
			w := do(h, http.MethodGet, "/healthz", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "topk_")
			So(do(h, http.MethodGet, "/metrics", "", nil).Code, ShouldEqual, http.StatusOK)
		})

		Convey("When a request id is supplied", func() {
			w := do(h, http.MethodGet, "/stats", "", map[string]string{api.HeaderRequestID: "req-123"})
			So(w.Header().Get(api.HeaderRequestID), ShouldEqual, "req-123")
		})
	})
}

func TestETagFormat(t *testing.T) {
	for v, want := range map[uint64]string{0: `"v0"`, 12: `"v12"`} {
		deps := &mockDeps{snap: model.Snapshot{Version: v, Entries: []model.Entry{}}}
		w := do(newMux(deps), http.MethodGet, "/leaderboard", "", nil)
		if got := w.Header().Get("ETag"); got != want {
			t.Errorf("version %d: ETag = %s, want %s", v, got, want)
		}
		if w.Code != http.StatusOK {
			t.Errorf("version %d: status %d", v, w.Code)
		}
	}
}
