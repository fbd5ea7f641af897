package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config - корневая структура конфигурации сервиса. Читается один раз при старте.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Vault   VaultConfig   `mapstructure:"vault"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Journal JournalConfig `mapstructure:"journal"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logger  LoggerConfig  `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
// WriteTimeout должен быть больше agent.timeout, иначе ответ агента не дойдёт до клиента.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// Addr - адрес для net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// VaultConfig описывает синхронизируемый (Syncthing) Obsidian vault.
type VaultConfig struct {
	Root           string   `mapstructure:"root"`
	Extension      string   `mapstructure:"extension"`
	Reserved       []string `mapstructure:"reserved"`
	MarkerPrefixes []string `mapstructure:"marker_prefixes"`
}

// AgentConfig описывает вызов внешнего агента.
type AgentConfig struct {
	Executable    string        `mapstructure:"executable"`
	Flags         []string      `mapstructure:"flags"`
	DirectoryFlag string        `mapstructure:"directory_flag"`
	MessageFlag   string        `mapstructure:"message_flag"`
	Workspace     string        `mapstructure:"workspace"`
	Timeout       time.Duration `mapstructure:"timeout"`
	KillGrace     time.Duration `mapstructure:"kill_grace"`
	MaxOutput     int           `mapstructure:"max_output"` // байт хвоста stdout в памяти

	OrganizePrompt       string `mapstructure:"organize_prompt"`
	OrganizeOutputWindow int    `mapstructure:"organize_output_window"` // символов stdout в ответе
	ExecuteOutputWindow  int    `mapstructure:"execute_output_window"`
}

// LimitsConfig - необязательная защита хоста (по умолчанию выключена).
type LimitsConfig struct {
	MaxConcurrent   int64         `mapstructure:"max_concurrent"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// AuthConfig содержит путь к публичному RSA ключу. Без ключа авторизация выключена.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	RequiredScope string `mapstructure:"required_scope"`
	PublicKey     []byte
}

// Enabled - ключ найден в файле или в ENV.
func (a AuthConfig) Enabled() bool {
	return len(a.PublicKey) > 0
}

type JournalConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	DatabaseURL   string        `mapstructure:"database_url"` // пусто - только stdout
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // пусто - /metrics не поднимается
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// configFile может быть пустым - тогда config.yaml ищется в "." и "./configs".
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")    // имя файла без расширения
		v.SetConfigType("yaml")      // формат
		v.AddConfigPath(".")         // ищем в корне
		v.AddConfigPath("./configs") // и в папке с конфигами
	}

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: VAULT_ROOT=/data/vault перекроет vault.root
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// VAULT_ROOT="" - осознанное «ещё не настроено», а не отсутствие переменной
	v.AllowEmptyEnv(true)

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет - работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключ из ENV (Docker/K8s) или из файла
	key, err := loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	if err != nil {
		return nil, err
	}
	cfg.Auth.PublicKey = key

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ловит значения, с которыми сервис заведомо не сможет работать.
// Пустые vault.root и agent.workspace допустимы - это состояние «ожидает настройки» (503).
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Agent.Executable == "" {
		return errors.New("config: agent.executable is required")
	}
	if c.Agent.Timeout <= 0 {
		return fmt.Errorf("config: agent.timeout must be positive, got %v", c.Agent.Timeout)
	}
	if c.Vault.Extension == "" {
		return errors.New("config: vault.extension is required")
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= c.Agent.Timeout {
		return fmt.Errorf("config: server.write_timeout (%v) must exceed agent.timeout (%v)",
			c.Server.WriteTimeout, c.Agent.Timeout)
	}
	if _, err := ParseLevel(c.Logger.Level); err != nil {
		return err
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 320*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("vault.root", "/root/Obsidian/Claude-code-ios") // Syncthing path на VPS
	v.SetDefault("vault.extension", ".md")
	v.SetDefault("vault.reserved", []string{"START HERE.md", "INDEX.md", "README.md"})
	v.SetDefault("vault.marker_prefixes", []string{"📊", "📝", "📺"})

	v.SetDefault("agent.executable", "claude")
	v.SetDefault("agent.flags", []string{"--yes"})
	v.SetDefault("agent.directory_flag", "--directory")
	v.SetDefault("agent.message_flag", "--message")
	v.SetDefault("agent.workspace", "/root/ClaudeCode-Workspace")
	v.SetDefault("agent.timeout", 300*time.Second)
	v.SetDefault("agent.kill_grace", 5*time.Second)
	v.SetDefault("agent.max_output", 1<<20)
	v.SetDefault("agent.organize_prompt", "")
	v.SetDefault("agent.organize_output_window", 500)
	v.SetDefault("agent.execute_output_window", 1000)

	v.SetDefault("limits.max_concurrent", 0)
	v.SetDefault("limits.rate_limit", 0)
	v.SetDefault("limits.rate_burst", 1)
	v.SetDefault("limits.breaker_failures", 5)
	v.SetDefault("limits.breaker_timeout", 30*time.Second)

	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("auth.required_scope", "")

	v.SetDefault("journal.buffer_size", 1024)
	v.SetDefault("journal.flush_interval", 1*time.Second)
	v.SetDefault("journal.database_url", "")

	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource - ключ прилетел напрямую в ENV (PEM) или лежит файлом по пути из конфига.
// Заданный, но нечитаемый путь - ошибка: иначе POST маршруты открылись бы без авторизации.
func loadKeyResource(path string, envDataKey string) ([]byte, error) {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data), nil
	}
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: auth.public_key_path: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("config: auth.public_key_path %s is empty", path)
	}
	return data, nil
}
