package app

import (
	"strings"
)

// NormalizeLocalViewer keeps the viewer bound to localhost and returns the
// listen address and the URL to open.
func NormalizeLocalViewer(cfgAddr string) (listenAddr string, url string) {
	a := strings.TrimSpace(cfgAddr)

	if strings.HasPrefix(a, ":") {
		a = "127.0.0.1" + a
	}
	if strings.HasPrefix(a, "0.0.0.0:") {
		a = "127.0.0.1:" + strings.TrimPrefix(a, "0.0.0.0:")
	}

	return a, "http://" + a
}

func logBanner(peerDir, cfgPath string) {
	log.Infow("peer scope", "dir", peerDir, "config", cfgPath)
	log.Info("this process is one player; a different folder is a different player")
}
