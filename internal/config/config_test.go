package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/exelr/roomcast"
	. "github.com/smartystreets/goconvey/convey"
)

const sample = `
username: alice
server:
  host: 10.0.0.5
  port: 31000
  serializer: msgpack
session:
  auto_join: false
log:
  level: debug
gateway:
  enabled: true
  address: 127.0.0.1:9000
`

func writeConfig(t *testing.T, content string) string {
	var path = filepath.Join(t.TempDir(), "roomcast.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	Convey("Given no config file", t, func() {
		cfg, err := Load("")
		So(err, ShouldBeNil)

		Convey("Defaults are applied", func() {
			So(cfg.Server.Port, ShouldEqual, roomcast.DefaultPort)
			So(cfg.Server.Serializer, ShouldEqual, "json")
			So(cfg.Session.AutoJoin, ShouldBeTrue)
			So(cfg.Session.OptimisticJoin, ShouldBeTrue)
			So(cfg.Gateway.Enabled, ShouldBeFalse)
			So(cfg.TUI, ShouldBeTrue)
		})

		Convey("A username and host are generated", func() {
			So(cfg.Username, ShouldNotBeEmpty)
			So(cfg.Server.Host, ShouldEqual, LocalIPv4())
		})
	})

	Convey("Given a missing file", t, func() {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		So(err, ShouldBeNil)
		So(cfg.Server.Port, ShouldEqual, roomcast.DefaultPort)
	})

	Convey("Given a YAML file", t, func() {
		var path = writeConfig(t, sample)
		cfg, err := Load(path)
		So(err, ShouldBeNil)

		Convey("File values win over defaults", func() {
			So(cfg.Username, ShouldEqual, "alice")
			So(cfg.Server.Address(), ShouldEqual, "10.0.0.5:31000")
			So(cfg.Server.Serializer, ShouldEqual, "msgpack")
			So(cfg.Session.AutoJoin, ShouldBeFalse)
			So(cfg.Session.OptimisticJoin, ShouldBeTrue)
			So(cfg.Log.Level, ShouldEqual, "debug")
			So(cfg.Gateway.Address, ShouldEqual, "127.0.0.1:9000")
		})
	})

	Convey("Invalid settings are rejected", t, func() {
		_, err := Load(writeConfig(t, "server:\n  port: 70000\n"))
		So(err, ShouldNotBeNil)
		_, err = Load(writeConfig(t, "server:\n  serializer: xml\n"))
		So(err, ShouldNotBeNil)
		_, err = Load(writeConfig(t, "server: [unclosed\n"))
		So(err, ShouldNotBeNil)
	})
}

func TestLoadEnvOverrides(t *testing.T) {
	Convey("Given a YAML file and ROOMCAST_ variables", t, func() {
		t.Setenv("ROOMCAST_USERNAME", "bob")
		t.Setenv("ROOMCAST_SERVER_PORT", "32000")
		t.Setenv("ROOMCAST_SESSION_AUTO_JOIN", "true")
		t.Setenv("ROOMCAST_TRANSCRIPT_PATH", "/tmp/roomcast.yaml")

		cfg, err := Load(writeConfig(t, sample))
		So(err, ShouldBeNil)

		Convey("Environment values win over the file", func() {
			So(cfg.Username, ShouldEqual, "bob")
			So(cfg.Server.Port, ShouldEqual, 32000)
			So(cfg.Session.AutoJoin, ShouldBeTrue)
			So(cfg.Transcript.Path, ShouldEqual, "/tmp/roomcast.yaml")
		})

		Convey("Unset variables leave file values alone", func() {
			So(cfg.Server.Host, ShouldEqual, "10.0.0.5")
			So(cfg.Server.Serializer, ShouldEqual, "msgpack")
		})
	})
}

func TestDetermineConfigPath(t *testing.T) {
	Convey("The flag wins, then the environment", t, func() {
		t.Setenv("ROOMCAST_CONFIG", "/from/env.yaml")
		So(DetermineConfigPath("/from/flag.yaml"), ShouldEqual, "/from/flag.yaml")
		So(DetermineConfigPath(""), ShouldEqual, "/from/env.yaml")
	})
}
