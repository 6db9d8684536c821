package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Arms lists the intersection approaches that have a camera, in display order.
var Arms = []string{"north", "south", "east", "west"}

type Config struct {
	HTTPAddr string

	DatabaseURL string

	Cameras CameraConfig

	FrontendDir string
	ImagesDir   string
	BrandingDir string

	PersistWorkers  int
	PersistQueue    int
	PersistAttempts int

	LogLevel  string
	LogFormat string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3Region    string
	S3Bucket    string
	S3Prefix    string

	MQTTHost      string
	MQTTPort      int
	MQTTUsername  string
	MQTTPassword  string
	MQTTClientID  string
	MQTTBaseTopic string
}

type CameraConfig struct {
	// Hosts maps arm name to camera address (host or host:port).
	Hosts      map[string]string `yaml:"arms"`
	Username   string            `yaml:"username"`
	Password   string            `yaml:"password"`
	StreamPath string            `yaml:"stream_path"`
	Timeout    time.Duration     `yaml:"timeout"`
	ChunkSize  int               `yaml:"chunk_size"`
}

func (c Config) PersistenceEnabled() bool { return c.DatabaseURL != "" }

func (c Config) MirrorEnabled() bool { return c.S3Endpoint != "" && c.S3Bucket != "" }

func (c Config) MQTTEnabled() bool { return c.MQTTHost != "" }

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key, def string) bool {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// getDuration accepts Go durations ("10s") or a bare number of seconds.
func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}

// Load reads the environment. CAMERAS_FILE, when set, is applied on top of
// the CAMERA_* variables.
func Load() (Config, error) {
	frontend := getenv("FRONTEND_DIR", "./frontend")
	cfg := Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":5000"),
		DatabaseURL: databaseURL(),
		Cameras: CameraConfig{
			Hosts: map[string]string{
				"north": getenv("CAMERA_NORTH_IP", "192.168.1.1"),
				"south": getenv("CAMERA_SOUTH_IP", "192.168.1.2"),
				"east":  getenv("CAMERA_EAST_IP", "192.168.1.3"),
				"west":  getenv("CAMERA_WEST_IP", "192.168.1.4"),
			},
			Username:   getenv("CAMERA_USERNAME", "root"),
			Password:   os.Getenv("CAMERA_PASSWORD"),
			StreamPath: getenv("CAMERA_STREAM_PATH", "/axis-cgi/mjpg/video.cgi"),
			Timeout:    getDuration("CAMERA_TIMEOUT", 10*time.Second),
			ChunkSize:  getInt("CAMERA_CHUNK_SIZE", 1024),
		},
		FrontendDir:     frontend,
		ImagesDir:       getenv("IMAGES_DIR", filepath.Join(frontend, "static", "images")),
		BrandingDir:     getenv("BRANDING_DIR", "./images"),
		PersistWorkers:  getInt("PERSIST_WORKERS", 2),
		PersistQueue:    getInt("PERSIST_QUEUE", 64),
		PersistAttempts: getInt("PERSIST_ATTEMPTS", 3),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogFormat:       getenv("LOG_FORMAT", "console"),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:        getBool("S3_USE_SSL", "false"),
		S3Region:        os.Getenv("S3_REGION"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3Prefix:        getenv("S3_PREFIX", "images"),
		MQTTHost:        os.Getenv("MQTT_HOST"),
		MQTTPort:        getInt("MQTT_PORT", 1883),
		MQTTUsername:    os.Getenv("MQTT_USERNAME"),
		MQTTPassword:    os.Getenv("MQTT_PASSWORD"),
		MQTTClientID:    getenv("MQTT_CLIENT_ID", "traffic-bridge"),
		MQTTBaseTopic:   getenv("MQTT_BASE_TOPIC", "traffic"),
	}

	if path := os.Getenv("CAMERAS_FILE"); path != "" {
		if err := cfg.Cameras.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// databaseURL prefers DATABASE_URL and otherwise assembles one from the
// DB_* variables. Without DB_NAME persistence is disabled.
func databaseURL() string {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u
	}
	name := os.Getenv("DB_NAME")
	if name == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   getenv("DB_HOST", "localhost") + ":" + getenv("DB_PORT", "5432"),
		Path:   "/" + name,
	}
	if user := os.Getenv("DB_USER"); user != "" {
		if pw := os.Getenv("DB_PASSWORD"); pw != "" {
			u.User = url.UserPassword(user, pw)
		} else {
			u.User = url.User(user)
		}
	}
	return u.String()
}

func (c *CameraConfig) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read cameras file: %w", err)
	}
	var file CameraConfig
	if err := yaml.Unmarshal(b, &file); err != nil {
		return fmt.Errorf("parse cameras file %s: %w", path, err)
	}
	for arm, host := range file.Hosts {
		c.Hosts[strings.ToLower(arm)] = host
	}
	if file.Username != "" {
		c.Username = file.Username
	}
	if file.Password != "" {
		c.Password = file.Password
	}
	if file.StreamPath != "" {
		c.StreamPath = file.StreamPath
	}
	if file.Timeout > 0 {
		c.Timeout = file.Timeout
	}
	if file.ChunkSize > 0 {
		c.ChunkSize = file.ChunkSize
	}
	return nil
}

func (c Config) validate() error {
	for arm := range c.Cameras.Hosts {
		if !isArm(arm) {
			return fmt.Errorf("unknown camera arm %q", arm)
		}
	}
	if c.Cameras.ChunkSize <= 0 {
		return fmt.Errorf("CAMERA_CHUNK_SIZE must be positive")
	}
	if c.Cameras.Timeout <= 0 {
		return fmt.Errorf("CAMERA_TIMEOUT must be positive")
	}
	if !strings.HasPrefix(c.Cameras.StreamPath, "/") {
		return fmt.Errorf("CAMERA_STREAM_PATH must start with /")
	}
	return nil
}

func isArm(name string) bool {
	for _, a := range Arms {
		if a == name {
			return true
		}
	}
	return false
}
