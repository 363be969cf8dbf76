package app

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/petervdpas/tunetrivia/internal/config"
)

// PromptInteractive walks through the settings a new player usually
// changes. Empty answers keep the current value. An invalid result falls
// back to the defaults.
func PromptInteractive(r io.Reader, w io.Writer, peerDir, cfgPath string, cfg config.Config) config.Config {
	in := bufio.NewReader(r)

	fmt.Fprintln(w, "────────────────────────────────────────")
	fmt.Fprintln(w, "tunetrivia setup")
	fmt.Fprintf(w, " Peer folder : %s\n", peerDir)
	fmt.Fprintf(w, " Config file : %s\n", cfgPath)
	fmt.Fprintln(w, "────────────────────────────────────────")
	fmt.Fprintln(w)

	cfg.Profile.DisplayName = askString(in, w, "Display name", cfg.Profile.DisplayName)
	cfg.Viewer.HTTPAddr = askString(in, w, "Viewer HTTP addr (empty=off)", cfg.Viewer.HTTPAddr)
	cfg.Catalog.LibraryPath = askString(in, w, "Track library file", cfg.Catalog.LibraryPath)

	if askBool(in, w, "Play over the network (p2p)", cfg.Network == config.NetworkP2P) {
		cfg.Network = config.NetworkP2P
		cfg.P2P.ListenPort = askInt(in, w, "Listen port (0=random)", cfg.P2P.ListenPort)
		cfg.P2P.MdnsTag = askString(in, w, "mDNS tag", cfg.P2P.MdnsTag)
		cfg.Presence.HeartbeatSec = askInt(in, w, "Room announce interval seconds", cfg.Presence.HeartbeatSec)
	} else {
		cfg.Network = config.NetworkLocal
	}

	cfg.Game.RoundsCount = askInt(in, w, "Rounds per match", cfg.Game.RoundsCount)
	cfg.Game.RoundSec = askInt(in, w, "Seconds per round", cfg.Game.RoundSec)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(w, "Invalid config: %v\nKeeping defaults.\n", err)
		return config.Default()
	}
	return cfg
}

func askString(in *bufio.Reader, w io.Writer, label, def string) string {
	fmt.Fprintf(w, "%s [%s]: ", label, def)
	s, _ := in.ReadString('\n')
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func askInt(in *bufio.Reader, w io.Writer, label string, def int) int {
	for {
		fmt.Fprintf(w, "%s [%d]: ", label, def)
		s, err := in.ReadString('\n')
		s = strings.TrimSpace(s)
		if s == "" {
			return def
		}
		if v, convErr := strconv.Atoi(s); convErr == nil {
			return v
		}
		if err != nil {
			return def
		}
		fmt.Fprintln(w, "Please enter a number.")
	}
}

func askBool(in *bufio.Reader, w io.Writer, label string, def bool) bool {
	defStr := "n"
	if def {
		defStr = "y"
	}
	for {
		fmt.Fprintf(w, "%s [y/n] (default=%s): ", label, defStr)
		s, err := in.ReadString('\n')
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			return def
		}
		switch s {
		case "y", "yes", "true", "1":
			return true
		case "n", "no", "false", "0":
			return false
		}
		if err != nil {
			return def
		}
		fmt.Fprintln(w, "Please enter y or n.")
	}
}
