package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/matchpoint/internal/config"
	"github.com/okian/matchpoint/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverMemory)
			convey.So(cfg.StoreTimeout, convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.DefaultPageLimit, convey.ShouldEqual, 20)
			convey.So(cfg.MaxPageLimit, convey.ShouldEqual, 100)
			convey.So(cfg.DefaultRadiusKm, convey.ShouldEqual, 10)
			convey.So(cfg.Policy(), convey.ShouldResemble, model.DefaultPolicy())
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with one bad setting each", t, func() {
		cases := map[string]func(*config.Config){
			"empty addr":        func(c *config.Config) { c.Addr = " " },
			"zero timeout":      func(c *config.Config) { c.StoreTimeout = 0 },
			"no retries":        func(c *config.Config) { c.CASRetries = 0 },
			"zero radius":       func(c *config.Config) { c.DefaultRadiusKm = 0 },
			"max below default": func(c *config.Config) { c.MaxPageLimit = 10 },
			"zero dedupe":       func(c *config.Config) { c.DedupeSize = 0 },
			"inverted capacity": func(c *config.Config) { c.MinCapacity, c.MaxCapacity = 10, 4 },
			"inverted ages":     func(c *config.Config) { c.DefaultMinAge, c.DefaultMaxAge = 50, 20 },
			"unknown driver":    func(c *config.Config) { c.StoreDriver = "redis" },
			"sqlite without file": func(c *config.Config) {
				c.StoreDriver, c.SQLitePath = config.DriverSQLite, ""
			},
			"dynamodb without table": func(c *config.Config) {
				c.StoreDriver, c.DynamoDBTable = config.DriverDynamoDB, ""
			},
			"user without id": func(c *config.Config) { c.Users = []model.User{{Age: 30}} },
			"user too old":    func(c *config.Config) { c.Users = []model.User{{ID: "u", Age: 130}} },
		}

		convey.Convey("Then each should be rejected as invalid", func() {
			for name, edit := range cases {
				cfg := config.New()
				edit(cfg)
				err := cfg.Validate()
				convey.So(name, convey.ShouldNotBeEmpty)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			}
		})
	})
}
