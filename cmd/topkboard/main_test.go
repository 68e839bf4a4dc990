package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/okian/topkboard/internal/adapters/http/api"
	"github.com/okian/topkboard/internal/adapters/mq/bus"
	"github.com/okian/topkboard/internal/adapters/mq/fanout"
	"github.com/okian/topkboard/internal/config"
	"github.com/okian/topkboard/internal/domain/admission"
	"github.com/okian/topkboard/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestBuild(t *testing.T) {
	convey.Convey("Given a memory-backed configuration from the environment", t, func() {
		_ = os.Setenv("TOPK_TOP_K", "3")
		_ = os.Setenv("TOPK_TOKEN_KEY", "main-test-key")
		_ = os.Setenv("TOPK_HEARTBEAT_INTERVAL_MS", "0")
		defer func() {
			_ = os.Unsetenv("TOPK_TOP_K")
			_ = os.Unsetenv("TOPK_TOKEN_KEY")
			_ = os.Unsetenv("TOPK_HEARTBEAT_INTERVAL_MS")
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cfg, err := config.Load(ctx)
		convey.So(err, convey.ShouldBeNil)
		convey.So(cfg.TopK, convey.ShouldEqual, 3)

		app, err := build(ctx, cfg)
		convey.So(err, convey.ShouldBeNil)
		convey.So(app.svc.Start(ctx), convey.ShouldBeNil)
		srv := httptest.NewServer(app.handler)
		defer func() {
			srv.Close()
			_ = app.svc.Stop(context.Background())
			app.close(context.Background())
		}()

		issuer, err := admission.NewIssuer(cfg.TokenKeyVersion, []byte(cfg.TokenKey), nil)
		convey.So(err, convey.ShouldBeNil)

		submit := func(user, token string, delta int64) *http.Response {
			proof, err := issuer.Issue(user, "match_win", token, delta, 10*time.Second)
			convey.So(err, convey.ShouldBeNil)
			body, _ := json.Marshal(map[string]any{
				"delta":         delta,
				"actionType":    "match_win",
				"actionTokenId": token,
			})
			req, _ := http.NewRequest(http.MethodPost, srv.URL+"/events", bytes.NewReader(body))
			req.Header.Set(api.HeaderUserID, user)
			req.Header.Set(api.HeaderActionProof, proof)
			resp, err := http.DefaultClient.Do(req)
			convey.So(err, convey.ShouldBeNil)
			return resp
		}

		convey.Convey("When scores are submitted over HTTP", func() {
			for i, s := range []struct {
				user  string
				delta int64
			}{{"ann", 30}, {"bob", 10}, {"cat", 20}, {"dan", 5}, {"bob", 25}} {
				resp := submit(s.user, "tok-"+string(rune('a'+i)), s.delta)
				_ = resp.Body.Close()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
				convey.So(resp.Header.Get(api.HeaderRequestID), convey.ShouldNotBeEmpty)
			}

			convey.Convey("Then the leaderboard holds the top three", func() {
				resp, err := http.Get(srv.URL + "/leaderboard")
				convey.So(err, convey.ShouldBeNil)
				defer resp.Body.Close()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)

				var snap model.Snapshot
				convey.So(json.NewDecoder(resp.Body).Decode(&snap), convey.ShouldBeNil)
				convey.So(snap.Entries, convey.ShouldHaveLength, 3)
				convey.So(snap.Entries[0].UserID, convey.ShouldEqual, "bob")
				convey.So(snap.Entries[0].Score, convey.ShouldEqual, 35)
				convey.So(snap.Entries[1].UserID, convey.ShouldEqual, "ann")
				convey.So(snap.Entries[2].UserID, convey.ShouldEqual, "cat")
			})

			convey.Convey("Then a replayed token is flagged and not counted", func() {
				resp := submit("ann", "tok-a", 30)
				_ = resp.Body.Close()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
				convey.So(resp.Header.Get(api.HeaderIdempotentReplay), convey.ShouldEqual, "true")
				convey.So(app.svc.Snapshot(ctx, 1).Entries[0].Score, convey.ShouldEqual, 35)
			})

			convey.Convey("Then the change feed carries the updates once drained", func() {
				convey.So(app.svc.Stop(ctx), convey.ShouldBeNil)
				mb, ok := app.bus.(*bus.MemoryBus)
				convey.So(ok, convey.ShouldBeTrue)
				msgs := mb.Messages(bus.SubjectsFor(cfg.SubjectPrefix).Updates)
				convey.So(len(msgs), convey.ShouldBeGreaterThan, 0)

				var last fanout.Message
				convey.So(json.Unmarshal(msgs[len(msgs)-1].Data, &last), convey.ShouldBeNil)
				convey.So(last.Version, convey.ShouldEqual, app.svc.Snapshot(ctx, 0).Version)
			})
		})

		convey.Convey("When the API docs are requested", func() {
			resp, err := http.Get(srv.URL + "/openapi.yaml")
			convey.So(err, convey.ShouldBeNil)
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
		})
	})
}

func TestSystemMetrics(t *testing.T) {
	convey.Convey("Given the system metrics updater", t, func() {
		convey.Convey("Then a single update does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})

		convey.Convey("Then the loop returns when its context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
		})
	})
}
