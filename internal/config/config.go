package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/petervdpas/tunetrivia/internal/model"
	"github.com/petervdpas/tunetrivia/internal/roomcode"
	"github.com/petervdpas/tunetrivia/internal/util"

	logging "github.com/ipfs/go-log/v2"
	ma "github.com/multiformats/go-multiaddr"
)

// FileName is the config file inside a peer directory.
const FileName = "tunetrivia.json"

const (
	NetworkP2P   = "p2p"   // libp2p with mDNS and gossip announcements
	NetworkLocal = "local" // in-process hub; other processes cannot join, so solo play only
)

type Config struct {
	Network  string   `json:"network"`
	Identity Identity `json:"identity"`
	P2P      P2P      `json:"p2p"`
	Presence Presence `json:"presence"`
	Game     Game     `json:"game"`
	Profile  Profile  `json:"profile"`
	Viewer   Viewer   `json:"viewer"`
	Catalog  Catalog  `json:"catalog"`
	Logging  Logging  `json:"logging"`
}

type Identity struct {
	// Key of the long-lived discovery node. Room hosts derive their key
	// from the room code instead.
	KeyFile string `json:"key_file"`
}

type P2P struct {
	ListenPort        int    `json:"listen_port"`
	MdnsTag           string `json:"mdns_tag"`
	ConnectTimeoutSec int    `json:"connect_timeout_seconds"`

	// Multiaddrs of peers to dial at startup so announcements reach beyond
	// the LAN. Each must end in /p2p/<peer id>.
	BootstrapAddrs []string `json:"bootstrap_addrs"`
}

type Presence struct {
	Topic        string `json:"topic"`
	TTLSec       int    `json:"ttl_seconds"`
	HeartbeatSec int    `json:"heartbeat_seconds"`
	GraceSec     int    `json:"grace_seconds"`
}

// Game holds the defaults offered when a room is created.
type Game struct {
	Mode          string `json:"mode"`
	RoundsCount   int    `json:"rounds_count"`
	RoundSec      int    `json:"round_seconds"`
	MinPoints     int    `json:"min_points"`
	MaxPoints     int    `json:"max_points"`
	AutoAdvanceMs int    `json:"auto_advance_ms"`
	CodeLength    int    `json:"code_length"`
}

type Profile struct {
	DisplayName string `json:"display_name"`
}

type Viewer struct {
	HTTPAddr     string `json:"http_addr"`
	EventHistory int    `json:"event_history"`
}

type Catalog struct {
	LibraryPath string `json:"library_path"`
	Watch       bool   `json:"watch"`
}

type Logging struct {
	Level string `json:"level"`
}

func Default() Config {
	return Config{
		Network: NetworkP2P,
		Identity: Identity{
			KeyFile: "data/identity.key",
		},
		P2P: P2P{
			ListenPort:        0,
			MdnsTag:           "spotiquiz-mdns",
			ConnectTimeoutSec: 10,
		},
		Presence: Presence{
			Topic:        "spotiquiz.rooms.v1",
			TTLSec:       20,
			HeartbeatSec: 5,
			GraceSec:     60,
		},
		Game: Game{
			Mode:          string(model.ModeABCD),
			RoundsCount:   10,
			RoundSec:      30,
			MinPoints:     100,
			MaxPoints:     1000,
			AutoAdvanceMs: 1500,
			CodeLength:    roomcode.DefaultLen,
		},
		Viewer: Viewer{
			HTTPAddr:     "127.0.0.1:8790",
			EventHistory: 64,
		},
		Catalog: Catalog{
			LibraryPath: "library.yaml",
			Watch:       true,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

func (c *Config) Validate() error {
	switch c.Network {
	case NetworkP2P, NetworkLocal:
	default:
		return fmt.Errorf("network must be %q or %q", NetworkP2P, NetworkLocal)
	}

	// Identity
	if c.Network == NetworkP2P && strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}

	// P2P
	if c.P2P.ListenPort < 0 || c.P2P.ListenPort > 65535 {
		return errors.New("p2p.listen_port must be 0..65535")
	}
	if strings.TrimSpace(c.P2P.MdnsTag) == "" {
		return errors.New("p2p.mdns_tag is required")
	}
	if c.P2P.ConnectTimeoutSec <= 0 {
		return errors.New("p2p.connect_timeout_seconds must be > 0")
	}
	for _, s := range c.P2P.BootstrapAddrs {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			return fmt.Errorf("p2p.bootstrap_addrs: %q: %w", s, err)
		}
		if _, err := a.ValueForProtocol(ma.P_P2P); err != nil {
			return fmt.Errorf("p2p.bootstrap_addrs: %q has no /p2p/ component", s)
		}
	}

	// Presence
	if strings.TrimSpace(c.Presence.Topic) == "" {
		return errors.New("presence.topic is required")
	}
	if c.Presence.TTLSec <= 0 {
		return errors.New("presence.ttl_seconds must be > 0")
	}
	if c.Presence.HeartbeatSec <= 0 {
		return errors.New("presence.heartbeat_seconds must be > 0")
	}
	if c.Presence.HeartbeatSec >= c.Presence.TTLSec {
		return errors.New("presence.heartbeat_seconds must be < presence.ttl_seconds")
	}
	if c.Presence.GraceSec < 0 {
		return errors.New("presence.grace_seconds must be >= 0")
	}

	// Game
	if err := c.GameSettings().Validate(); err != nil {
		return fmt.Errorf("game: %w", err)
	}
	if c.Game.CodeLength < roomcode.MinLen || c.Game.CodeLength > roomcode.MaxLen {
		return fmt.Errorf("game.code_length must be %d..%d", roomcode.MinLen, roomcode.MaxLen)
	}

	// Profile
	if c.Profile.DisplayName != "" {
		if _, err := util.ValidateDisplayName(c.Profile.DisplayName); err != nil {
			return fmt.Errorf("profile.display_name: %w", err)
		}
	}

	// Viewer
	if c.Viewer.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(c.Viewer.HTTPAddr); err != nil {
			return fmt.Errorf("viewer.http_addr: %w", err)
		}
	}
	if c.Viewer.EventHistory < 0 {
		return errors.New("viewer.event_history must be >= 0")
	}

	// Logging
	if _, err := logging.LevelFromString(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// GameSettings turns the configured defaults into room settings.
func (c Config) GameSettings() model.Settings {
	return model.Settings{
		Mode:          model.GameMode(c.Game.Mode),
		RoomType:      model.RoomParty,
		RoundsCount:   c.Game.RoundsCount,
		RoundDuration: time.Duration(c.Game.RoundSec) * time.Second,
		MinPoints:     c.Game.MinPoints,
		MaxPoints:     c.Game.MaxPoints,
		AutoAdvance:   time.Duration(c.Game.AutoAdvanceMs) * time.Millisecond,
	}
}

func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.P2P.ConnectTimeoutSec) * time.Second
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
