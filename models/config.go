package models

import "time"

// Config 構造体はサーバー全体の設定情報を保持します。
// config.json の値を読み込んだ後、環境変数で上書きされます。
type Config struct {
	DBHost     string `json:"db_host" env:"DB_HOST"`
	DBUser     string `json:"db_user" env:"DB_USER"`
	DBPassword string `json:"db_password" env:"DB_PASSWORD"`
	DBName     string `json:"db_name" env:"DB_NAME"`
	DBSSLMode  string `json:"db_sslmode" env:"DB_SSLMODE"`

	RedisAddr     string `json:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `json:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `json:"redis_db" env:"REDIS_DB"`

	ListenAddr     string   `json:"listen_addr" env:"LISTEN_ADDR"`
	AllowedOrigins []string `json:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	AdminSecret    string   `json:"admin_secret" env:"ADMIN_SECRET"`
	LogLevel       string   `json:"log_level" env:"LOG_LEVEL"`

	HandshakeTimeout Duration `json:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	DisconnectGrace  Duration `json:"disconnect_grace" env:"DISCONNECT_GRACE"`
	StrikeLimit      int      `json:"strike_limit" env:"STRIKE_LIMIT"`
	GamesEachWay     int      `json:"games_each_way" env:"GAMES_EACH_WAY"`
	SessionRetention Duration `json:"session_retention" env:"SESSION_RETENTION"`
}

// Duration は "10s" のような文字列で JSON / 環境変数から読み込める time.Duration です。
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig は設定ファイルが無い場合にも動くデフォルト値を返します。
func DefaultConfig() Config {
	return Config{
		DBHost:           "localhost",
		DBUser:           "postgres",
		DBName:           "botarena",
		DBSSLMode:        "disable",
		RedisAddr:        "localhost:6379",
		ListenAddr:       ":8080",
		HandshakeTimeout: Duration{10 * time.Second},
		DisconnectGrace:  Duration{500 * time.Millisecond},
		StrikeLimit:      3,
		GamesEachWay:     2,
		SessionRetention: Duration{30 * 24 * time.Hour},
	}
}
