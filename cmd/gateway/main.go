// Command gateway é o reverse proxy com rate limit por janela deslizante,
// mais comandos de operador (peek, inspect, reset) sobre o mesmo Redis.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Globals são compartilhadas por todos os comandos.
type Globals struct {
	LogLevel string `name:"log-level" env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error" help:"Log level."`

	RedisAddr     string `name:"redis-addr" env:"RATE_REDIS_ADDR" default:"localhost:6379" help:"Counter store (Redis) address."`
	RedisPassword string `name:"redis-password" env:"RATE_REDIS_PASSWORD" help:"Counter store password."`
	RedisDB       int    `name:"redis-db" env:"RATE_REDIS_DB" default:"0" help:"Counter store database."`

	LimitsFile      string   `name:"limits-file" env:"RATE_LIMITS_FILE" type:"path" help:"YAML file with limiter and route definitions."`
	AdminSubjects   []string `name:"admin-subjects" env:"RATE_ADMIN_SUBJECTS" help:"Subjects that bypass every limiter."`
	DirectoryPrefix string   `name:"directory-prefix" env:"RATE_DIRECTORY_PREFIX" help:"Redis hash prefix with subject metadata (is-admin); empty disables."`

	TraceStdout bool `name:"trace-stdout" env:"TRACE_STDOUT" help:"Export engine spans to stdout."`
}

type CLI struct {
	Globals

	Serve   ServeCmd   `cmd:"" default:"withargs" help:"Run the rate limiting gateway."`
	Peek    PeekCmd    `cmd:"" help:"Show a subject's quota without consuming it."`
	Inspect InspectCmd `cmd:"" help:"Run the consistency inspector for a subject."`
	Reset   ResetCmd   `cmd:"" help:"Reset a subject's tokens."`
}

func loadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

func main() {
	if err := loadEnvFiles(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("gateway"),
		kong.Description("Sliding window rate limiting gateway"),
		kong.UsageOnError(),
	)

	initLogger(cli.LogLevel)

	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
