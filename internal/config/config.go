package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150
	LookupHTTPAddr string // e.g. http://nsqlookupd:4161
	TasksTopic     string // NSQ topic for task triggers
	DLQTopic       string // Dead letter topic
	WorkerChannel  string // NSQ channel name for workers
}

type Engine struct {
	MaxRetries    int           // Retry attempts after the first (total attempts = MaxRetries+1)
	BaseBackoff   time.Duration // First retry delay; doubles per attempt
	BackoffCap    time.Duration // Upper bound on a single backoff sleep
	JitterPercent float64       // Backoff jitter percentage (0.0-1.0)
	DLQCapacity   int           // In-memory dead-letter ring size
	PublishDLQ    bool          // Whether to publish dead letters to the DLQ topic
}

type API struct {
	Port         string        // API listen port
	ReadTimeout  time.Duration // HTTP read timeout
	WriteTimeout time.Duration // HTTP write timeout
	IdleTimeout  time.Duration // HTTP idle timeout
}

type Auth struct {
	PublicKeyPEM string // RSA public key for JWT verification
	Issuer       string
	Audience     string
	Disabled     bool // Skip auth entirely (local development only)
}

type Config struct {
	AppName string
	DB      DB
	NSQ     NSQ
	Engine  Engine
	API     API
	Auth    Auth
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName: getenv("APP_NAME", "revoflow"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "revoflow"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr: getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			TasksTopic:     getenv("NSQ_TASKS_TOPIC", "tasks"),
			DLQTopic:       getenv("NSQ_DLQ_TOPIC", "tasks_dlq"),
			WorkerChannel:  getenv("NSQ_WORKER_CHANNEL", "workers"),
		},
		Engine: Engine{
			MaxRetries:    getenvInt("MAX_RETRIES", 3),
			BaseBackoff:   getenvDuration("BASE_BACKOFF", time.Second),
			BackoffCap:    getenvDuration("BACKOFF_CAP", 5*time.Second),
			JitterPercent: getenvFloat("BACKOFF_JITTER_PCT", 0.25),
			DLQCapacity:   getenvInt("DLQ_CAPACITY", 1024),
			PublishDLQ:    getenvBool("PUBLISH_DLQ_TOPIC", false),
		},
		API: API{
			Port:         getenv("API_PORT", ":8080"),
			ReadTimeout:  getenvDuration("API_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getenvDuration("API_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getenvDuration("API_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: Auth{
			PublicKeyPEM: getenv("JWT_PUBLIC_KEY_PEM", ""),
			Issuer:       getenv("JWT_ISSUER", "revoflow"),
			Audience:     getenv("JWT_AUDIENCE", "revoflow-api"),
			Disabled:     getenvBool("AUTH_DISABLED", false),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
