package config_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/okian/matchpoint/internal/config"
	"github.com/okian/matchpoint/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldResemble, config.New())
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("MATCHPOINT_ADDR", ":9090")
			_ = os.Setenv("MATCHPOINT_STORE_DRIVER", "sqlite")
			_ = os.Setenv("MATCHPOINT_SQLITE_PATH", "/tmp/mp.db")
			_ = os.Setenv("MATCHPOINT_STORE_TIMEOUT", "750ms")
			_ = os.Setenv("MATCHPOINT_MAX_CAPACITY", "30")
			_ = os.Setenv("MATCHPOINT_DEFAULT_RADIUS_KM", "2.5")
			_ = os.Setenv("MATCHPOINT_CORS_ALLOWED_ORIGINS", "https://app.example.com, https://*.vercel.app")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverSQLite)
				convey.So(cfg.SQLitePath, convey.ShouldEqual, "/tmp/mp.db")
				convey.So(cfg.StoreTimeout, convey.ShouldEqual, 750*time.Millisecond)
				convey.So(cfg.MaxCapacity, convey.ShouldEqual, 30)
				convey.So(cfg.DefaultRadiusKm, convey.ShouldEqual, 2.5)
				convey.So(cfg.CORSAllowedOrigins, convey.ShouldResemble, []string{"https://app.example.com", "https://*.vercel.app"})
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			tmpFile := createTempConfigFile(`
addr: ":7070"
store_driver: dynamodb
dynamodb_table: games
jwt_secret: s3cret
media_bucket: match-images
media_presign_ttl: 2m
users:
  - id: alice
    age: 29
    gender: female
  - id: bob
    age: 17
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("MATCHPOINT_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverDynamoDB)
				convey.So(cfg.DynamoDBTable, convey.ShouldEqual, "games")
				convey.So(cfg.JWTSecret, convey.ShouldEqual, "s3cret")
				convey.So(cfg.MediaBucket, convey.ShouldEqual, "match-images")
				convey.So(cfg.MediaPresignTTL, convey.ShouldEqual, 2*time.Minute)
				convey.So(cfg.Users, convey.ShouldResemble, []model.User{
					{ID: "alice", Age: 29, Gender: model.GenderFemale},
					{ID: "bob", Age: 17},
				})
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 10_000)
			})

			convey.Convey("And env vars should override the file", func() {
				_ = os.Setenv("MATCHPOINT_ADDR", ":6060")
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":6060")
				convey.So(cfg.DynamoDBTable, convey.ShouldEqual, "games")
			})
		})

		convey.Convey("When loading config with an invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("MATCHPOINT_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with a non-existent file", func() {
			_ = os.Setenv("MATCHPOINT_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("MATCHPOINT_ADDR", "")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("MATCHPOINT_MAX_PAGE_LIMIT", "not_a_number")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// clearConfigEnvVars unsets every MATCHPOINT_ variable.
func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, config.EnvPrefix) {
			_ = os.Unsetenv(name)
		}
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "matchpoint-config-*.yaml")
	if err != nil {
		panic(err)
	}
	defer func() { _ = tmpFile.Close() }()

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
