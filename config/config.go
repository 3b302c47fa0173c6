// Package config holds the echo bot's runtime options.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/opd-ai/toxecho/limits"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// BootstrapNode is a DHT node used to join the network.
type BootstrapNode struct {
	Host      string `yaml:"host"`
	Port      uint16 `yaml:"port"`
	PublicKey string `yaml:"public_key"`
}

// Options contains every setting the bot reads at startup.
type Options struct {
	Name          string `yaml:"name"`
	StatusMessage string `yaml:"status_message"`
	Avatar        string `yaml:"avatar"`

	SaveFile     string        `yaml:"save_file"`
	SaveTmpFile  string        `yaml:"save_tmp_file"`
	SaveInterval time.Duration `yaml:"save_interval"`
	// Passphrase, when set, encrypts the save file at rest.
	Passphrase string `yaml:"passphrase"`

	Bootstrap []BootstrapNode `yaml:"bootstrap"`

	AcceptAvatars bool   `yaml:"accept_avatars"`
	MaxAvatarSize uint64 `yaml:"max_avatar_size"`
	AvatarsPath   string `yaml:"avatars_path"`

	AcceptFiles bool   `yaml:"accept_files"`
	MaxFileSize uint64 `yaml:"max_file_size"`
	FilesPath   string `yaml:"files_path"`

	MaxTransfersPerPeer int `yaml:"max_transfers_per_peer"`

	AcceptCalls  bool   `yaml:"accept_calls"`
	AudioBitRate uint32 `yaml:"audio_bit_rate"`
	VideoBitRate uint32 `yaml:"video_bit_rate"`

	AutoAcceptFriends bool `yaml:"auto_accept_friends"`
	EchoMessages      bool `yaml:"echo_messages"`
	EchoFiles         bool `yaml:"echo_files"`
	// EchoToAll offers a received file back to the sender and to every
	// other online peer. When false only the sender gets it back.
	EchoToAll bool `yaml:"echo_to_all"`
	EchoMedia bool `yaml:"echo_media"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns the options the bot runs with when nothing is configured.
func Default() *Options {
	return &Options{
		Name:          "EchoBot",
		StatusMessage: "Think Safety",
		Avatar:        "echobot.png",
		SaveFile:      "echobot.data",
		SaveTmpFile:   "echobot.data.tmp",
		SaveInterval:  300 * time.Second,
		Bootstrap: []BootstrapNode{
			{
				Host:      "178.62.250.138",
				Port:      33445,
				PublicKey: "788236D34978D1D5BD822F0A5BEBD2C53C64CC31CD3149350EE27D4D9A2F9B6B",
			},
		},
		MaxTransfersPerPeer: limits.DefaultMaxTransfersPerPeer,
		AcceptCalls:         true,
		AudioBitRate:        32,
		VideoBitRate:        5000,
		AutoAcceptFriends:   true,
		EchoMessages:        true,
		EchoFiles:           true,
		EchoToAll:           true,
		EchoMedia:           true,
		LogLevel:            "info",
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (*Options, error) {
	opts := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"path":     path,
	}).Debug("Configuration loaded")

	return opts, nil
}

// Validate checks the options for values the bot cannot run with.
func (o *Options) Validate() error {
	if len(o.Name) > limits.MaxNameLength {
		return fmt.Errorf("name is %d bytes, limit %d", len(o.Name), limits.MaxNameLength)
	}
	if len(o.StatusMessage) > limits.MaxStatusMessageLength {
		return fmt.Errorf("status message is %d bytes, limit %d", len(o.StatusMessage), limits.MaxStatusMessageLength)
	}
	if o.SaveFile == "" {
		return errors.New("save file cannot be empty")
	}
	if o.SaveTmpFile == "" || o.SaveTmpFile == o.SaveFile {
		return errors.New("save tmp file must be set and differ from the save file")
	}
	if o.SaveInterval <= 0 {
		return fmt.Errorf("save interval must be positive, got %v", o.SaveInterval)
	}
	if o.MaxTransfersPerPeer <= 0 {
		return fmt.Errorf("max transfers per peer must be positive, got %d", o.MaxTransfersPerPeer)
	}
	if o.AcceptCalls && (o.AudioBitRate == 0 && o.VideoBitRate == 0) {
		return errors.New("accepting calls requires a non-zero audio or video bit rate")
	}
	for i, node := range o.Bootstrap {
		if err := node.validate(); err != nil {
			return fmt.Errorf("bootstrap node %d: %w", i, err)
		}
	}
	if _, err := logrus.ParseLevel(o.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

func (n BootstrapNode) validate() error {
	if n.Host == "" {
		return errors.New("host cannot be empty")
	}
	if n.Port == 0 {
		return errors.New("port must be between 1 and 65535")
	}
	key, err := hex.DecodeString(n.PublicKey)
	if err != nil || len(key) != 32 {
		return fmt.Errorf("public key must be 64 hex characters, got %q", n.PublicKey)
	}
	return nil
}

// ConfigureLogging applies LogLevel and LogJSON to the standard logrus logger.
func (o *Options) ConfigureLogging() error {
	level, err := logrus.ParseLevel(o.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	if o.LogJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
