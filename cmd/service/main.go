package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime/debug"
	"syscall"
	_ "time/tzdata"

	"github.com/2beens/gymlog/internal/config"
	"github.com/2beens/gymlog/internal/logging"
	"github.com/2beens/gymlog/internal/server"
	"github.com/2beens/gymlog/pkg"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// secrets never live in config.toml; they come from the environment or the -env-file.
type secrets struct {
	supabaseAnonKey  string
	redisPassword    string
	postgresPassword string
	sentryDSN        string
	honeycombEnabled bool
}

func main() {
	fmt.Println("starting gymlog ...")

	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	envFile := flag.String("env-file", ".env", "optional file with secrets as environment variables")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Printf("load env file %s: %s\n", *envFile, err)
	}

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		panic(err)
	}

	sec := loadSecrets()
	versionInfo := buildVersion()

	flushLogs := logging.Setup(logging.LoggerSetupParams{
		LogFileName:      cfg.LogsPath,
		LogToStdout:      cfg.LogToStdout,
		LogLevel:         cfg.LogLevel,
		LogFormatJSON:    cfg.IsProduction(),
		Environment:      cfg.Environment,
		Release:          versionInfo,
		SentryEnabled:    cfg.SentryEnabled,
		SentryDSN:        sec.sentryDSN,
		SentryServerName: "gymlog-service",
	})
	defer flushLogs()

	log.Warnf("---->> running in [%s] environment, version [%s]", cfg.Environment, versionInfo)
	log.Debugf("using port: %d, backend: %s", cfg.Port, cfg.Backend)
	checkSecrets(cfg, sec)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, server.NewServerParams{
		Config:                  cfg,
		VersionInfo:             versionInfo,
		SupabaseAnonKey:         sec.supabaseAnonKey,
		RedisPassword:           sec.redisPassword,
		PostgresPassword:        sec.postgresPassword,
		HoneycombTracingEnabled: sec.honeycombEnabled,
	})
	if err != nil {
		log.Fatalf("new server: %s", err)
	}

	srv.Serve(ctx, cfg.Host, cfg.Port)

	<-ctx.Done()
	log.Warnln("shutdown signal received, stopping ...")
	srv.GracefulShutdown()
}

func loadSecrets() secrets {
	return secrets{
		supabaseAnonKey:  os.Getenv("GYMLOG_SUPABASE_ANON_KEY"),
		redisPassword:    os.Getenv("GYMLOG_REDIS_PASS"),
		postgresPassword: os.Getenv("GYMLOG_POSTGRES_PASS"),
		sentryDSN:        os.Getenv("SENTRY_DSN"),
		honeycombEnabled: os.Getenv("HONEYCOMB_ENABLED") == "true",
	}
}

func checkSecrets(cfg *config.Config, sec secrets) {
	switch {
	case sec.supabaseAnonKey == "" && cfg.Backend == config.BackendPostgrest:
		log.Fatalln("supabase anon key not set. use GYMLOG_SUPABASE_ANON_KEY")
	case sec.postgresPassword == "" && cfg.Backend == config.BackendPsql:
		log.Warnln("postgres password not set. use GYMLOG_POSTGRES_PASS")
	}
	if sec.redisPassword == "" {
		log.Warnln("redis password not set. use GYMLOG_REDIS_PASS")
	}
	if sec.honeycombEnabled && os.Getenv("HONEYCOMB_API_KEY") == "" {
		log.Warnln("HONEYCOMB_API_KEY env var not set")
	}
	if os.Getenv("OTEL_SERVICE_NAME") == "" {
		log.Debugln("OTEL_SERVICE_NAME env var not set")
	}
}

// buildVersion prefers the vcs revision stamped at build time and falls back to asking git,
// which assumes the binary runs from the project root.
func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return s.Value
			}
		}
	}

	out, err := exec.Command("git", "rev-parse", "HEAD").Output()
	if err != nil {
		return "unknown"
	}
	return pkg.CommandOutput(out)
}
