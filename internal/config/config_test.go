package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/topkboard/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.TopK, convey.ShouldEqual, 10)
			convey.So(cfg.ClockSkew(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.MaxProofTTL(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverMemory)
			convey.So(cfg.BusDriver, convey.ShouldEqual, config.DriverMemory)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()

		cases := []struct {
			name   string
			mutate func(*config.Config)
			substr string
		}{
			{"zero k", func(c *config.Config) { c.TopK = 0 }, "top_k"},
			{"zero delta cap", func(c *config.Config) { c.DeltaCap = 0 }, "delta_cap"},
			{"missing key", func(c *config.Config) { c.TokenKey = "" }, "token_key"},
			{"unknown store", func(c *config.Config) { c.StoreDriver = "redis" }, "store_driver"},
			{"postgres without url", func(c *config.Config) { c.StoreDriver = config.DriverPostgres }, "database_url"},
			{"unknown bus", func(c *config.Config) { c.BusDriver = "kafka" }, "bus_driver"},
			{"nats without url", func(c *config.Config) { c.BusDriver = config.DriverNATS }, "nats_url"},
			{"empty queue", func(c *config.Config) { c.PublishQueueSize = 0 }, "publish_queue_size"},
		}

		for _, tc := range cases {
			convey.Convey("When "+tc.name, func() {
				tc.mutate(cfg)
				err := cfg.Validate()

				convey.Convey("Then it should be rejected as invalid", func() {
					convey.So(err, convey.ShouldNotBeNil)
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
					convey.So(err.Error(), convey.ShouldContainSubstring, tc.substr)
				})
			})
		}
	})
}

func TestConfig_SigningKeys(t *testing.T) {
	convey.Convey("Given a config with rotated keys", t, func() {
		cfg := config.New()
		cfg.TokenKeys = map[string]string{"v0": "old-secret"}

		convey.Convey("Then both the active and the previous key are returned", func() {
			keys := cfg.SigningKeys()
			convey.So(keys, convey.ShouldHaveLength, 2)
			convey.So(string(keys["v0"]), convey.ShouldEqual, "old-secret")
			convey.So(string(keys[cfg.TokenKeyVersion]), convey.ShouldEqual, cfg.TokenKey)
		})
	})
}
