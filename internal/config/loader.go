package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBITER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBITER_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "ARBITER_MODE")
	setStr(&cfg.LogLevel, "ARBITER_LOG_LEVEL")

	// --- Wallet ---
	setStr(&cfg.Wallet.PrivateKey, "ARBITER_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "ARBITER_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ARBITER_WALLET_KEY_PASSWORD")

	// --- Postgres ---
	setStr(&cfg.Postgres.DSN, "ARBITER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBITER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBITER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBITER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBITER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBITER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBITER_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "ARBITER_POSTGRES_RUN_MIGRATIONS")

	// --- Redis ---
	setStr(&cfg.Redis.Addr, "ARBITER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBITER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBITER_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "ARBITER_REDIS_TLS")

	// --- S3 ---
	setStr(&cfg.S3.Endpoint, "ARBITER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBITER_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBITER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBITER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBITER_S3_SECRET_KEY")

	// --- Feed / advisory ---
	setStr(&cfg.Feed.WSURL, "ARBITER_FEED_WS_URL")
	setStr(&cfg.Advisory.URL, "ARBITER_ADVISORY_URL")

	// --- Server ---
	setInt(&cfg.Server.Port, "ARBITER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "ARBITER_SERVER_API_KEY")

	// --- Notify ---
	setStr(&cfg.Notify.TelegramToken, "ARBITER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBITER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBITER_NOTIFY_DISCORD_WEBHOOK_URL")
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
