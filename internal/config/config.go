// Package config defines the engine-wide tunables the peer session engine
// and its demo driver are built against. Loading these from flags or a
// config file is out of scope here; Default provides the values every
// component below is specified and tested against.
package config

import (
	"crypto/rand"
	"crypto/sha1"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Config holds resource limits and timing knobs for one swarm session.
type Config struct {
	// ========== Identity / Paths ==========

	// DefaultDownloadDir is the platform-specific download directory. No
	// component in this repo reads it.
	DefaultDownloadDir string

	// ClientID is this client's 20-byte peer id prefix + random suffix.
	ClientID [sha1.Size]byte

	// ========== Networking ==========

	// ReadTimeout is the maximum time to wait for data from a peer before
	// considering the connection stalled.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending data to a peer
	// before considering the connection stalled.
	WriteTimeout time.Duration

	// DialTimeout is the maximum time to wait when establishing a new
	// connection to a peer.
	DialTimeout time.Duration

	// MaxPeers is the maximum number of concurrent peer connections.
	// peer.Registry does not enforce it.
	MaxPeers int

	// ========== Bad-condition / snub detection ==========

	// BadConditionInterval is the cool-down window, in seconds, a peer
	// must wait out after Peer.StartBadCondition before Peer.IsGood
	// reports true again. Mirrors internal/peer.BadConditionInterval;
	// kept here too so the demo driver and chokealgo can reference it
	// without importing internal/peer just for a constant.
	BadConditionInterval float64

	// SnubInterval is how long a peer may go without sending useful data
	// before it counts as snubbing. chokealgo does not read it and never
	// sets the snubbing flag.
	SnubInterval time.Duration

	// ========== Seeding / Choking ==========

	// UploadSlots is the number of regular (non-optimistic) unchoke slots.
	UploadSlots int

	// RechokeInterval is how often chokealgo re-evaluates choke/unchoke
	// decisions.
	RechokeInterval time.Duration

	// OptimisticUnchokeInterval is the optimistic-unchoke rotation period.
	// chokealgo does not read it: it picks a new optimistic candidate on
	// every Rechoke call.
	OptimisticUnchokeInterval time.Duration

	// ========== Keepalive ==========

	// KeepAliveInterval is how often to send keep-alive messages to a
	// peer to hold the connection open.
	KeepAliveInterval time.Duration

	// ========== Fast Extension / extended messaging ==========

	// FastExtensionEnabled toggles whether newly-allocated sessions default
	// to BEP-6 Fast Extension support.
	FastExtensionEnabled bool

	// ExtendedMessagingEnabled toggles whether newly-allocated sessions
	// default to BEP-10 extended-messaging support.
	ExtendedMessagingEnabled bool

	// ========== Miscellaneous ==========

	// EnableIPv6 allows connections to IPv6 peers.
	EnableIPv6 bool

	// HasIPV6 records whether the local host appears to have working IPv6
	// connectivity.
	HasIPV6 bool
}

// Default returns the tunables every peer-engine component in this repo is
// specified and tested against.
func Default() (Config, error) {
	clientID, err := generateClientID()
	if err != nil {
		return Config{}, err
	}

	ipv6 := hasIPV6()

	return Config{
		DefaultDownloadDir: defaultDownloadDir(),
		ClientID:           clientID,

		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		DialTimeout:  7 * time.Second,
		MaxPeers:     50,

		BadConditionInterval: 10.0,
		SnubInterval:         60 * time.Second,

		UploadSlots:               4,
		RechokeInterval:           10 * time.Second,
		OptimisticUnchokeInterval: 30 * time.Second,

		KeepAliveInterval: 90 * time.Second,

		FastExtensionEnabled:     true,
		ExtendedMessagingEnabled: true,

		EnableIPv6: ipv6,
		HasIPV6:    ipv6,
	}, nil
}

func hasIPV6() bool {
	ifaces, _ := net.Interfaces()

	for _, ifi := range ifaces {
		if (ifi.Flags & net.FlagUp) == 0 {
			continue
		}
		addrs, _ := ifi.Addrs()
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}

			ip := ipNet.IP
			if ip == nil || ip.To4() != nil {
				continue
			}
			if ip.IsGlobalUnicast() && !ip.IsLinkLocalUnicast() && !ip.IsLoopback() {
				return true
			}
		}
	}

	return false
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		if cwd, err := os.Getwd(); err == nil {
			return filepath.Join(cwd, "downloads")
		}
		return "./downloads"
	}

	// No wails runtime environment probe here — GOOS is known at compile
	// time and is all the download-dir convention needs.
	switch runtime.GOOS {
	case "windows", "darwin":
		return filepath.Join(home, "Downloads", "gofetch")
	default: // linux, bsd, etc.
		return filepath.Join(home, ".local", "share", "gofetch", "downloads")
	}
}

func generateClientID() ([sha1.Size]byte, error) {
	var peerID [sha1.Size]byte

	prefix := []byte("-GF0001-")
	copy(peerID[:], prefix)

	if _, err := rand.Read(peerID[len(prefix):]); err != nil {
		return [sha1.Size]byte{}, err
	}

	return peerID, nil
}
