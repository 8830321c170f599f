// Package config carrega as definições de limiters e rotas do gateway.
//
// Os padrões embutidos cobrem os quatro propósitos (api, fileUpload, auth,
// email); um arquivo YAML opcional sobrescreve campos por nome ou adiciona
// novos limiters. Tudo é validado na inicialização e não muda depois.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"quota-gateway/middleware/ratelimit/domain"

	"gopkg.in/yaml.v3"
)

// Modos de rota.
const (
	// ModeConsume faz check-and-consume antes de encaminhar.
	ModeConsume = "consume"
	// ModeRecord faz só um peek antes e registra o consumo depois de um 2xx.
	ModeRecord = "record"
)

type Route struct {
	Prefix  string `yaml:"prefix"`
	Purpose string `yaml:"purpose"`
	Mode    string `yaml:"mode"`
}

type Config struct {
	Limiters []domain.LimiterDefinition
	Routes   []Route
}

type fileLimiter struct {
	Name      string        `yaml:"name"`
	Window    time.Duration `yaml:"window"`
	MaxTokens int           `yaml:"max_tokens"`
	KeyPrefix string        `yaml:"key_prefix"`
	FailOpen  *bool         `yaml:"fail_open"`
}

type file struct {
	Limiters []fileLimiter `yaml:"limiters"`
	Routes   []Route       `yaml:"routes"`
}

func DefaultLimiters() []domain.LimiterDefinition {
	return []domain.LimiterDefinition{
		{Name: "api", Window: 50 * time.Second, MaxTokens: 20, KeyPrefix: "ratelimit", FailOpen: true},
		{Name: "fileUpload", Window: 24 * time.Hour, MaxTokens: 20, KeyPrefix: "ratelimit/file-upload", FailOpen: true},
		{Name: "auth", Window: 15 * time.Minute, MaxTokens: 5, KeyPrefix: "ratelimit/auth", FailOpen: false},
		{Name: "email", Window: time.Hour, MaxTokens: 3, KeyPrefix: "ratelimit/email", FailOpen: false},
	}
}

func DefaultRoutes() []Route {
	return []Route{
		{Prefix: "/api/auth", Purpose: "auth", Mode: ModeConsume},
		{Prefix: "/api/email", Purpose: "email", Mode: ModeConsume},
		{Prefix: "/api/upload", Purpose: "fileUpload", Mode: ModeRecord},
		{Prefix: "/", Purpose: "api", Mode: ModeConsume},
	}
}

func Default() Config {
	return Config{Limiters: DefaultLimiters(), Routes: DefaultRoutes()}.Sorted()
}

// Load lê o arquivo YAML (vazio = só padrões), mescla com os padrões e valida.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read limits file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (Config, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse limits file: %w", err)
	}

	cfg := Default()
	for _, fl := range f.Limiters {
		cfg.Limiters = merge(cfg.Limiters, fl)
	}
	if len(f.Routes) > 0 {
		cfg.Routes = f.Routes
	}
	for i := range cfg.Routes {
		if cfg.Routes[i].Mode == "" {
			cfg.Routes[i].Mode = ModeConsume
		}
	}
	return cfg.Sorted(), cfg.Validate()
}

// merge sobrescreve apenas os campos informados de um limiter existente.
func merge(defs []domain.LimiterDefinition, fl fileLimiter) []domain.LimiterDefinition {
	for i := range defs {
		if defs[i].Name != fl.Name {
			continue
		}
		if fl.Window != 0 {
			defs[i].Window = fl.Window
		}
		if fl.MaxTokens != 0 {
			defs[i].MaxTokens = fl.MaxTokens
		}
		if fl.KeyPrefix != "" {
			defs[i].KeyPrefix = fl.KeyPrefix
		}
		if fl.FailOpen != nil {
			defs[i].FailOpen = *fl.FailOpen
		}
		return defs
	}

	def := domain.LimiterDefinition{
		Name:      fl.Name,
		Window:    fl.Window,
		MaxTokens: fl.MaxTokens,
		KeyPrefix: fl.KeyPrefix,
	}
	if def.KeyPrefix == "" {
		def.KeyPrefix = "ratelimit/" + fl.Name
	}
	if fl.FailOpen != nil {
		def.FailOpen = *fl.FailOpen
	}
	return append(defs, def)
}

func (c Config) Validate() error {
	if err := domain.ValidateDefinitions(c.Limiters); err != nil {
		return err
	}
	names := make(map[string]bool, len(c.Limiters))
	for _, d := range c.Limiters {
		names[d.Name] = true
	}
	for _, r := range c.Routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			return domain.NewValidationError("routes.prefix", fmt.Sprintf("%q must start with /", r.Prefix))
		}
		if !names[r.Purpose] {
			return domain.NewValidationError("routes.purpose", fmt.Sprintf("unknown limiter %q", r.Purpose))
		}
		if r.Mode != ModeConsume && r.Mode != ModeRecord {
			return domain.NewValidationError("routes.mode", fmt.Sprintf("%q must be consume or record", r.Mode))
		}
	}
	return nil
}

// Sorted devolve uma cópia com as rotas em ordem de prefixo mais longo primeiro.
func (c Config) Sorted() Config {
	if routesSorted(c.Routes) {
		return c
	}
	routes := slices.Clone(c.Routes)
	sort.SliceStable(routes, func(i, j int) bool { return len(routes[i].Prefix) > len(routes[j].Prefix) })
	c.Routes = routes
	return c
}

func routesSorted(routes []Route) bool {
	return slices.IsSortedFunc(routes, func(a, b Route) int { return len(b.Prefix) - len(a.Prefix) })
}

// Match devolve a rota de prefixo mais longo que casa com path. Configs vindas
// de Default/Load/Parse já estão ordenadas e são varridas sem cópia.
func (c Config) Match(path string) (Route, bool) {
	routes := c.Routes
	if !routesSorted(routes) {
		routes = c.Sorted().Routes
	}
	for _, r := range routes {
		if r.Prefix == "/" || path == r.Prefix || strings.HasPrefix(path, strings.TrimRight(r.Prefix, "/")+"/") {
			return r, true
		}
	}
	return Route{}, false
}
