package config

import (
	"time"

	"github.com/caarlos0/env/v9"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	GitSHA   string `env:"GIT_SHA"`
	Build    string `env:"BUILD_TIME"`

	DBDriver               string `env:"DB_DRIVER" envDefault:"mysql"` // mysql or postgres
	DBUser                 string `env:"DB_USER,required"`
	DBPassword             string `env:"DB_PASSWORD,required"`
	DBHost                 string `env:"DB_HOST,required"` // e.g. tcp(host:3306) or unix(/cloudsql/instance)
	DBName                 string `env:"DB_NAME,required"`
	DBPort                 string `env:"DB_PORT" envDefault:"3306"`
	InstanceConnectionName string `env:"INSTANCE_CONNECTION_NAME"`

	Payment PaymentConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
	Auth    AuthConfig
}

type PaymentConfig struct {
	PesapalBaseURL        string        `env:"PESAPAL_BASE_URL" envDefault:"https://cybqa.pesapal.com/pesapalv3"`
	PesapalConsumerKey    string        `env:"PESAPAL_CONSUMER_KEY"`
	PesapalConsumerSecret string        `env:"PESAPAL_CONSUMER_SECRET"`
	PesapalNotificationID string        `env:"PESAPAL_NOTIFICATION_ID"`
	CallbackURL           string        `env:"PESAPAL_CALLBACK_URL" envDefault:"https://flora-x.pages.dev/payment-callback"`
	Currency              string        `env:"PAYMENT_CURRENCY" envDefault:"KES"`
	ProviderTimeout       time.Duration `env:"PAYMENT_PROVIDER_TIMEOUT" envDefault:"10s"`
	PollInterval          time.Duration `env:"PAYMENT_POLL_INTERVAL" envDefault:"3s"`
	PollMaxAttempts       int           `env:"PAYMENT_POLL_MAX_ATTEMPTS" envDefault:"60"`
	// Zero disables the reaper.
	IntentTTL      time.Duration `env:"PAYMENT_INTENT_TTL" envDefault:"0s"`
	ReaperInterval time.Duration `env:"PAYMENT_REAPER_INTERVAL" envDefault:"1m"`
}

type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	LockTTL  time.Duration `env:"REDIS_LOCK_TTL" envDefault:"30s"`
}

type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"flora-orders"`
}

type AuthConfig struct {
	FirebaseProjectID string `env:"FIREBASE_PROJECT_ID"`
	FirebaseCredFile  string `env:"FIREBASE_CREDENTIALS_FILE"`
	JWTSecret         string `env:"JWT_SECRET"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
