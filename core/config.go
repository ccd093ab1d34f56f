package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Debug            bool
		TestMode         bool
		Env              string // DEV (local; default), TEST, QA, PROD
		AppName          string
		Build            string
		SecretKey        []byte
		DefaultFromEmail mail.Address
		SendgridAPIKey   string
		RollbarToken     string

		// operator tokens for the admin surface
		JWTExpirationDelta time.Duration

		// attendance alerting; a zero threshold disables alerts
		AlertsEmail            string
		LowAttendanceThreshold float64 // percent

		Server    ServerConfig
		Database  DatabaseConfig
		Session   SessionConfig
		Scheduler SchedulerConfig
	}

	ServerConfig struct {
		Host            string
		Address         string
		DebugHost       string
		ShutdownTimeout time.Duration
	}

	DatabaseConfig struct {
		InMemory      bool // DEV/TEST: use the in-memory document store
		Engine        string
		Name          string
		Host          string
		Port          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	// SessionConfig holds the session lifecycle windows.
	SessionConfig struct {
		ActivateEarly time.Duration // SCHEDULED -> ACTIVE allowed this long before start
		ActivateLate  time.Duration // .. and this long after start
		CloseGrace    time.Duration // auto-close fires this long after end
		CheckAhead    time.Duration // device session check looks this far ahead
	}

	SchedulerConfig struct {
		MaterializeAt string        // local time of day, "HH:MM"
		SweepEvery    time.Duration // cadence of the activate/close sweeps
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "Mahudhurio")
	conf.SetDefault("build", "dev")
	conf.SetDefault("secretKey", "vx2mq-k3y)attnd$+57=hz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")
	conf.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("alertsEmail", "")
	conf.SetDefault("lowAttendanceThreshold", 0.0)
	conf.SetDefault("sendgridApiKey", "")
	conf.SetDefault("rollbarToken", "")

	conf.SetDefault("serverHost", "localhost")
	conf.SetDefault("serverAddress", ":8000")
	conf.SetDefault("serverDebugHost", "localhost:4000")
	conf.SetDefault("serverShutdownTimeout", 5*time.Second)

	conf.SetDefault("databaseInMemory", true)
	conf.SetDefault("databaseEngine", "postgres")
	conf.SetDefault("databaseName", "mahudhurio")
	conf.SetDefault("databaseHost", "localhost")
	conf.SetDefault("databasePort", "5432")
	conf.SetDefault("databaseUser", "")
	conf.SetDefault("databasePassword", "")
	conf.SetDefault("databaseAdminUser", "")
	conf.SetDefault("databaseAdminPassword", "")
	conf.SetDefault("databaseDisableTLS", true)

	conf.SetDefault("sessionActivateEarly", 5*time.Minute)
	conf.SetDefault("sessionActivateLate", 15*time.Minute)
	conf.SetDefault("sessionCloseGrace", 5*time.Minute)
	conf.SetDefault("sessionCheckAhead", 15*time.Minute)

	conf.SetDefault("schedulerMaterializeAt", "06:00")
	conf.SetDefault("schedulerSweepEvery", 2*time.Minute)

	var testMode bool
	env := os.Getenv("ENV")
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		testMode = true
	}
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		Debug:            conf.GetBool("debug"),
		TestMode:         testMode,
		Env:              env,
		AppName:          conf.GetString("appName"),
		Build:            conf.GetString("build"),
		SecretKey:        []byte(conf.GetString("secretKey")),
		DefaultFromEmail: mail.Address{Name: conf.GetString("appName"), Address: conf.GetString("defaultFromEmail")},
		SendgridAPIKey:   conf.GetString("sendgridApiKey"),
		RollbarToken:     conf.GetString("rollbarToken"),

		JWTExpirationDelta: conf.GetDuration("jwtExpirationDelta"),

		AlertsEmail:            conf.GetString("alertsEmail"),
		LowAttendanceThreshold: conf.GetFloat64("lowAttendanceThreshold"),

		Server: ServerConfig{
			Host:            conf.GetString("serverHost"),
			Address:         conf.GetString("serverAddress"),
			DebugHost:       conf.GetString("serverDebugHost"),
			ShutdownTimeout: conf.GetDuration("serverShutdownTimeout"),
		},
		Database: DatabaseConfig{
			InMemory:      conf.GetBool("databaseInMemory"),
			Engine:        conf.GetString("databaseEngine"),
			Name:          conf.GetString("databaseName"),
			Host:          conf.GetString("databaseHost"),
			Port:          conf.GetString("databasePort"),
			User:          conf.GetString("databaseUser"),
			Password:      conf.GetString("databasePassword"),
			AdminUser:     conf.GetString("databaseAdminUser"),
			AdminPassword: conf.GetString("databaseAdminPassword"),
			DisableTLS:    conf.GetBool("databaseDisableTLS"),
		},
		Session: SessionConfig{
			ActivateEarly: conf.GetDuration("sessionActivateEarly"),
			ActivateLate:  conf.GetDuration("sessionActivateLate"),
			CloseGrace:    conf.GetDuration("sessionCloseGrace"),
			CheckAhead:    conf.GetDuration("sessionCheckAhead"),
		},
		Scheduler: SchedulerConfig{
			MaterializeAt: conf.GetString("schedulerMaterializeAt"),
			SweepEvery:    conf.GetDuration("schedulerSweepEvery"),
		},
	}
}
