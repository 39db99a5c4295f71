package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Camera is one configured video source.
type Camera struct {
	ID  string `yaml:"id"`
	URI string `yaml:"uri"`
}

type camerasFile struct {
	Cameras []Camera `yaml:"cameras"`
}

type Config struct {
	Port         int
	Cameras      []Camera
	CamerasFile  string
	LogLevel     string
	LogDirectory string
	APIToken     string

	// Durable bus
	BusDriver          string // mqtt | sqlite
	MQTTBroker         string
	MQTTClientID       string
	MQTTTopic          string
	MQTTQoS            int
	MQTTPublishTimeout time.Duration
	BusSQLitePath      string

	// Detectors
	PlateModelPath  string
	PlateConfigPath string
	FaceModelPath   string
	FaceConfigPath  string
	PlateThreshold  float64
	FaceThreshold   float64

	// Frame sources
	TargetFPS           float64
	FrameCooldown       time.Duration
	MaxConsecutiveDrops int
	MaxReconnects       int
	ReconnectDelay      time.Duration
	MaxReconnectDelay   time.Duration

	// Tracking
	TrackerCapacity int
	TrackerMinIoU   float64

	// Live viewers
	SendTimeout time.Duration
}

// Load reads configuration from the environment, after loading a .env file
// when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Port:         getEnvAsInt("PORT", 8080),
		CamerasFile:  getEnv("CAMERAS_FILE", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogDirectory: getEnv("LOG_DIR", ""),
		APIToken:     getEnv("API_TOKEN", ""),

		BusDriver:          getEnv("BUS_DRIVER", "mqtt"),
		MQTTBroker:         getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID:       getEnv("MQTT_CLIENT_ID", "analytics-engine"),
		MQTTTopic:          getEnv("MQTT_TOPIC", "analytics/detections"),
		MQTTQoS:            getEnvAsInt("MQTT_QOS", 1),
		MQTTPublishTimeout: getEnvAsDuration("MQTT_PUBLISH_TIMEOUT", 2*time.Second),
		BusSQLitePath:      getEnv("BUS_SQLITE_PATH", "bus.db"),

		PlateModelPath:  getEnv("PLATE_MODEL_PATH", "models/plate_detector.pb"),
		PlateConfigPath: getEnv("PLATE_CONFIG_PATH", "models/plate_detector.pbtxt"),
		FaceModelPath:   getEnv("FACE_MODEL_PATH", "models/res10_300x300_ssd_iter_140000.caffemodel"),
		FaceConfigPath:  getEnv("FACE_CONFIG_PATH", "models/deploy.prototxt"),
		PlateThreshold:  getEnvAsFloat("PLATE_THRESHOLD", 0.7),
		FaceThreshold:   getEnvAsFloat("FACE_THRESHOLD", 0.6),

		TargetFPS:           getEnvAsFloat("TARGET_FPS", 30),
		FrameCooldown:       getEnvAsDuration("FRAME_COOLDOWN", time.Second),
		MaxConsecutiveDrops: getEnvAsInt("MAX_CONSECUTIVE_DROPS", 10),
		MaxReconnects:       getEnvAsInt("MAX_RECONNECTS", 5),
		ReconnectDelay:      getEnvAsDuration("RECONNECT_DELAY", time.Second),
		MaxReconnectDelay:   getEnvAsDuration("MAX_RECONNECT_DELAY", 30*time.Second),

		TrackerCapacity: getEnvAsInt("TRACKER_CAPACITY", 256),
		TrackerMinIoU:   getEnvAsFloat("TRACKER_MIN_IOU", 0.5),

		SendTimeout: getEnvAsDuration("SEND_TIMEOUT", time.Second),
	}

	cameras, err := ParseCameras(getEnv("CAMERAS", ""))
	if err != nil {
		return nil, err
	}
	cfg.Cameras = cameras

	if cfg.CamerasFile != "" {
		fromFile, err := LoadCamerasFile(cfg.CamerasFile)
		if err != nil {
			return nil, err
		}
		cfg.Cameras = append(cfg.Cameras, fromFile...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseCameras parses "id=uri;id=uri". Whitespace around entries is ignored.
func ParseCameras(value string) ([]Camera, error) {
	var cameras []Camera
	for _, entry := range strings.Split(value, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, uri, ok := strings.Cut(entry, "=")
		id, uri = strings.TrimSpace(id), strings.TrimSpace(uri)
		if !ok || id == "" || uri == "" {
			return nil, fmt.Errorf("invalid camera entry %q, expected id=uri", entry)
		}
		cameras = append(cameras, Camera{ID: id, URI: uri})
	}
	return cameras, nil
}

// LoadCamerasFile reads cameras from a YAML file of the form
//
//	cameras:
//	  - id: gate
//	    uri: rtsp://10.0.0.5/stream1
func LoadCamerasFile(path string) ([]Camera, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cameras file: %w", err)
	}

	var file camerasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse cameras file %s: %w", path, err)
	}
	return file.Cameras, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam.ID == "" || cam.URI == "" {
			return fmt.Errorf("camera entries need both id and uri (got id=%q uri=%q)", cam.ID, cam.URI)
		}
		if seen[cam.ID] {
			return fmt.Errorf("duplicate camera id %q", cam.ID)
		}
		seen[cam.ID] = true
	}

	switch c.BusDriver {
	case "mqtt", "sqlite":
	default:
		return fmt.Errorf("unknown BUS_DRIVER %q", c.BusDriver)
	}

	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTTQoS)
	}
	if c.PlateThreshold < 0 || c.PlateThreshold > 1 || c.FaceThreshold < 0 || c.FaceThreshold > 1 {
		return fmt.Errorf("detector thresholds must be within [0,1]")
	}
	if c.TargetFPS <= 0 {
		return fmt.Errorf("TARGET_FPS must be positive, got %v", c.TargetFPS)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("500ms") or plain seconds ("2").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
