package sectorcontrol

import (
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/theoremus-urban-solutions/sector-control/tracking"
)

type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=0"`
}

type RoutingConfig struct {
	BaseURL     string   `yaml:"baseURL" validate:"omitempty,url"`
	AccessToken string   `yaml:"accessToken"`
	Profiles    []string `yaml:"profiles"`
	TimeoutMS   int      `yaml:"timeoutMS" validate:"gte=0"`
}

type StorageConfig struct {
	// Path is the bridge database file; the device identity file lives
	// next to it.
	Path string `yaml:"path"`
}

type RecorderConfig struct {
	URL string `yaml:"url" validate:"omitempty,url"`
}

type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	SectorsFile string            `yaml:"sectorsFile"`
	Routing     RoutingConfig     `yaml:"routing"`
	Storage     StorageConfig     `yaml:"storage"`
	Recorder    RecorderConfig    `yaml:"recorder"`
	Tracking    tracking.Settings `yaml:"tracking"`
}

var Config AppConfig

// LoadAppConfig loads and validates config.yml, then fills defaults.
func LoadAppConfig() error {
	paths := []string{"config.yml", "/etc/sector-control/config.yml"}
	var data []byte
	var err error
	for _, p := range paths {
		data, err = os.ReadFile(p)
		if err == nil {
			break
		}
	}
	if err != nil {
		return err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}
	Config = cfg
	applyDefaults(&Config)
	return nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 17880
	}
	if cfg.SectorsFile == "" {
		cfg.SectorsFile = "sectors.yml"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "sector-control.db"
	}
	if len(cfg.Tracking.WarningDistances) == 0 {
		cfg.Tracking.WarningDistances = []float64{1000, 2000, 3000}
	}
	if cfg.Tracking.SpeedMarginKmh == 0 {
		cfg.Tracking.SpeedMarginKmh = 5
	}
}
