package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	Debug      bool   `env:"DEBUG" envDefault:"false"`
	Domain     string `env:"DOMAIN" envDefault:"http://localhost:3000"`
	UIPort     string `env:"UI_PORT" envDefault:"3000"`
	MetricPort string `env:"METRIC_PORT" envDefault:"9090"`

	// AuthToken - учётные данные пользователя; обязателен для запуска клиента, migrate без него обходится
	AuthToken   string        `env:"AUTH_TOKEN"`
	APIURL      string        `env:"API_URL" envDefault:"http://localhost:8080/api/v1"`
	SessionID   string        `env:"SESSION_ID"`
	JoinTimeout time.Duration `env:"JOIN_TIMEOUT" envDefault:"15s"`

	Signaling  SignalingConfig
	Chat       ChatConfig
	Media      MediaConfig
	Transcript TranscriptConfig

	CoturnServer CoturnConfig
	Postgres     PostgresConfig

	ICEServers []webrtc.ICEServer
}

type SignalingConfig struct {
	// URL перекрывает адрес сигналинга из ответа join
	URL          string        `env:"SIGNALING_URL"`
	MaxAttempts  uint64        `env:"SIGNALING_MAX_ATTEMPTS" envDefault:"5"`
	BackoffBase  time.Duration `env:"SIGNALING_BACKOFF_BASE" envDefault:"500ms"`
	BackoffCap   time.Duration `env:"SIGNALING_BACKOFF_CAP" envDefault:"5s"`
	PingInterval time.Duration `env:"SIGNALING_PING_INTERVAL" envDefault:"30s"`
}

type ChatConfig struct {
	DedupWindow time.Duration `env:"CHAT_DEDUP_WINDOW" envDefault:"1s"`
	Rate        float64       `env:"CHAT_RATE" envDefault:"2"`
	Burst       int           `env:"CHAT_BURST" envDefault:"5"`
}

type MediaConfig struct {
	// SFUURL используется, если join не вернул endpoint
	SFUURL  string `env:"SFU_URL" envDefault:"ws://localhost:8090/sfu"`
	STUNURL string `env:"STUN_URL" envDefault:"stun:stun.l.google.com:19302"`

	// MicDevices/CameraDevices - label=путь к файлу (ogg/ivf), играют роль устройств захвата
	MicDevices    map[string]string `env:"MIC_DEVICES" envKeyValSeparator:"=" envDefault:"Default Microphone=media/mic.ogg"`
	CameraDevices map[string]string `env:"CAMERA_DEVICES" envKeyValSeparator:"=" envDefault:"Front Camera=media/front.ivf,Back Camera=media/back.ivf"`

	RecordDir         string        `env:"RECORD_DIR" envDefault:"recordings"`
	AttachMaxAttempts uint64        `env:"ATTACH_MAX_ATTEMPTS" envDefault:"5"`
	RenewLead         time.Duration `env:"MEDIA_RENEW_LEAD" envDefault:"30s"`
}

type TranscriptConfig struct {
	Enabled bool `env:"TRANSCRIPT_ENABLED" envDefault:"false"`
}

type PostgresConfig struct {
	URL string `env:"POSTGRES_URL"`

	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	Name     string `env:"POSTGRES_NAME" envDefault:"liveclass"`
	SSL      string `env:"POSTGRES_SSL" envDefault:"disable"`

	MaxOpenConns   int           `env:"POSTGRES_MAX_OPEN_CONNS" envDefault:"4"`
	ConnectTimeout time.Duration `env:"POSTGRES_CONNECT_TIMEOUT" envDefault:"10s"`
}

func (p *PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}

	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Name,
		p.SSL,
	)
}

// CoturnConfig - необязательный TURN; без Host используется только STUN
type CoturnConfig struct {
	Host     string `env:"COTURN_HOST"`
	Username string `env:"COTURN_USERNAME"`
	Password string `env:"COTURN_PASSWORD"`
}

func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if c.Media.STUNURL != "" {
		c.ICEServers = append(c.ICEServers, webrtc.ICEServer{URLs: []string{c.Media.STUNURL}})
	}

	if c.CoturnServer.Host != "" {
		c.ICEServers = append(c.ICEServers,
			webrtc.ICEServer{
				URLs:       []string{fmt.Sprintf("turn:%s?transport=udp", c.CoturnServer.Host)},
				Username:   c.CoturnServer.Username,
				Credential: c.CoturnServer.Password,
			},
			webrtc.ICEServer{
				URLs:       []string{fmt.Sprintf("turn:%s?transport=tcp", c.CoturnServer.Host)},
				Username:   c.CoturnServer.Username,
				Credential: c.CoturnServer.Password,
			},
		)
	}

	return &c, nil
}
