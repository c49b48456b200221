package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/jensenmasan/NodeCrypt/internal/util"
)

type Config struct {
	Relay   Relay   `json:"relay"`
	Profile Profile `json:"profile"`
	Chat    Chat    `json:"chat"`
	Call    Call    `json:"call"`
	Log     Log     `json:"log"`
}

type Relay struct {
	// Websocket endpoint of the relay server, ws:// or wss://.
	URL string `json:"url"`
}

type Profile struct {
	UserName string `json:"user_name"`
}

type Chat struct {
	// Messages retained per room; older ones are dropped front-first.
	HistorySize int `json:"history_size"`
}

type Call struct {
	ICEServers []string `json:"ice_servers"`

	// Skip camera capture even for video calls (e.g. broken V4L2 stack).
	VideoDisabled bool `json:"video_disabled"`
}

type Log struct {
	Level string `json:"level"` // trace, debug, info, warn, error
	File  string `json:"file"`  // empty: stderr
}

func Default() Config {
	return Config{
		Relay: Relay{
			URL: "ws://127.0.0.1:8080/ws",
		},
		Profile: Profile{
			UserName: "",
		},
		Chat: Chat{
			HistorySize: 500,
		},
		Call: Call{
			ICEServers: []string{"stun:stun.l.google.com:19302"},
		},
		Log: Log{
			Level: "info",
		},
	}
}

func (c *Config) Validate() error {
	// Relay
	raw := strings.TrimSpace(c.Relay.URL)
	if raw == "" {
		return errors.New("relay.url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("relay.url: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("relay.url scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("relay.url is missing a host")
	}

	// Profile
	if n := strings.TrimSpace(c.Profile.UserName); n != "" {
		if _, err := util.ValidateName(n); err != nil {
			return fmt.Errorf("profile.user_name: %w", err)
		}
	}

	// Chat
	if c.Chat.HistorySize <= 0 {
		return errors.New("chat.history_size must be > 0")
	}

	// Log
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return errors.New("log.level must be one of trace, debug, info, warn, error")
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
