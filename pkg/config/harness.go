package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andrej220/guestcheck/internal/parser"
	"github.com/andrej220/guestcheck/pkg/config/configstore"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultPollCount = 20
	DefaultPollDelay = 20 * time.Second
	DefaultOutputDir = "reports"
	DefaultParallel  = 4

	WaitMarkers = "markers"
	WaitImage   = "image"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// HarnessConfig describes the guests to check and what they should look like.
type HarnessConfig struct {
	Targets       []Target      `yaml:"targets" json:"targets" bson:"targets" validate:"required,min=1,dive"`
	Cloudbaseinit Cloudbaseinit `yaml:"cloudbaseinit" json:"cloudbaseinit" bson:"cloudbaseinit"`
	// Resources is the base URL the guests download helper scripts from.
	Resources string   `yaml:"resources" json:"resources" bson:"resources" validate:"required,url"`
	Polling   Polling  `yaml:"polling" json:"polling" bson:"polling"`
	Output    Output   `yaml:"output" json:"output" bson:"output"`
	Kafka     *Kafka   `yaml:"kafka,omitempty" json:"kafka,omitempty" bson:"kafka,omitempty"`
	Mongo     *Mongo   `yaml:"mongo,omitempty" json:"mongo,omitempty" bson:"mongo,omitempty"`
	Checks    []string `yaml:"checks,omitempty" json:"checks,omitempty" bson:"checks,omitempty"`
	// Parallel bounds how many targets are checked at once.
	Parallel int `yaml:"parallel" json:"parallel" bson:"parallel" validate:"gte=0"`
}

type Target struct {
	Name     string `yaml:"name" json:"name" bson:"name" validate:"required"`
	Address  string `yaml:"address" json:"address" bson:"address" validate:"required,hostname_port"`
	User     string `yaml:"user" json:"user" bson:"user" validate:"required"`
	Password string `yaml:"password,omitempty" json:"password,omitempty" bson:"password,omitempty" validate:"required_without=KeyPath"`
	KeyPath  string `yaml:"keyPath,omitempty" json:"keyPath,omitempty" bson:"keyPath,omitempty"`
	// Hostname is the instance name the guest should have taken.
	Hostname      string       `yaml:"hostname,omitempty" json:"hostname,omitempty" bson:"hostname,omitempty"`
	PublicKeyPath string       `yaml:"publicKeyPath,omitempty" json:"publicKeyPath,omitempty" bson:"publicKeyPath,omitempty"`
	MinDiskSize   int64        `yaml:"minDiskSize,omitempty" json:"minDiskSize,omitempty" bson:"minDiskSize,omitempty" validate:"gte=0"`
	NICs          []parser.NIC `yaml:"nics,omitempty" json:"nics,omitempty" bson:"nics,omitempty"`
}

type Cloudbaseinit struct {
	// ImageUser is the account baked into the image, used to detect boot.
	ImageUser     string `yaml:"imageUser" json:"imageUser" bson:"imageUser" validate:"required"`
	CreatedUser   string `yaml:"createdUser" json:"createdUser" bson:"createdUser" validate:"required"`
	Group         string `yaml:"group,omitempty" json:"group,omitempty" bson:"group,omitempty"`
	Timezone      string `yaml:"timezone,omitempty" json:"timezone,omitempty" bson:"timezone,omitempty"`
	PluginsCount  int64  `yaml:"pluginsCount,omitempty" json:"pluginsCount,omitempty" bson:"pluginsCount,omitempty" validate:"gte=0"`
	DnsmasqConfig string `yaml:"dnsmasqConfig,omitempty" json:"dnsmasqConfig,omitempty" bson:"dnsmasqConfig,omitempty"`
	// Wait selects how cloudbase-init completion is detected: marker files
	// left by a fresh install, or the logs of a prebuilt image.
	Wait string `yaml:"wait" json:"wait" bson:"wait" validate:"oneof=markers image"`
}

type Polling struct {
	Count int           `yaml:"count" json:"count" bson:"count" validate:"gte=1"`
	Delay time.Duration `yaml:"delay" json:"delay" bson:"delay" validate:"gte=0"`
}

type Output struct {
	Dir string `yaml:"dir" json:"dir" bson:"dir" validate:"required"`
}

type Kafka struct {
	Brokers       []string `yaml:"brokers" json:"brokers" bson:"brokers" validate:"required,min=1,dive,hostname_port"`
	ReportsTopic  string   `yaml:"reportsTopic" json:"reportsTopic" bson:"reportsTopic" validate:"required"`
	RequestsTopic string   `yaml:"requestsTopic,omitempty" json:"requestsTopic,omitempty" bson:"requestsTopic,omitempty"`
	GroupID       string   `yaml:"groupId,omitempty" json:"groupId,omitempty" bson:"groupId,omitempty" validate:"required_with=RequestsTopic"`
}

type Mongo struct {
	URI      string `yaml:"uri" json:"uri" bson:"uri" validate:"required,uri"`
	DBName   string `yaml:"dbName" json:"dbName" bson:"dbName" validate:"required"`
	CollName string `yaml:"collName" json:"collName" bson:"collName" validate:"required"`
}

// ApplyDefaults fills the zero valued settings that have a default.
func (c *HarnessConfig) ApplyDefaults() {
	if c.Polling.Count == 0 {
		c.Polling.Count = DefaultPollCount
	}
	if c.Polling.Delay == 0 {
		c.Polling.Delay = DefaultPollDelay
	}
	if c.Output.Dir == "" {
		c.Output.Dir = DefaultOutputDir
	}
	if c.Cloudbaseinit.Wait == "" {
		c.Cloudbaseinit.Wait = WaitMarkers
	}
	if c.Parallel == 0 {
		c.Parallel = DefaultParallel
	}
}

func (c *HarnessConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Target returns the target called name.
func (c *HarnessConfig) Target(name string) (Target, bool) {
	for _, t := range c.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

// PublicKey reads the public key the target is expected to authorize, with
// line endings normalized. It is empty when no key path is configured.
func (t Target) PublicKey() (string, error) {
	if t.PublicKeyPath == "" {
		return "", nil
	}
	b, err := os.ReadFile(t.PublicKeyPath)
	if err != nil {
		return "", fmt.Errorf("read public key of %s: %w", t.Name, err)
	}
	return strings.ReplaceAll(string(b), "\r\n", "\n"), nil
}

// Load reads a HarnessConfig from store, applies defaults and validates it.
func Load(ctx context.Context, store configstore.ConfigStore) (*HarnessConfig, error) {
	var cfg HarnessConfig
	if err := store.Load(ctx, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
