package session

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/user"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// machineIDPaths are checked in order for a stable per-host identifier.
var machineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// Fingerprint derives a stable device hash from facts about the host.
// It falls back to a random id if nothing about the host can be read.
func Fingerprint() string {
	return fingerprint(hostFacts())
}

func fingerprint(facts []string) string {
	var parts []string
	for _, f := range facts {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	if len(parts) == 0 {
		return uuid.New().String()
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func hostFacts() []string {
	facts := []string{runtime.GOOS, runtime.GOARCH}
	if host, err := os.Hostname(); err == nil {
		facts = append(facts, host)
	}
	if u, err := user.Current(); err == nil {
		facts = append(facts, u.Username)
	}
	for _, p := range machineIDPaths {
		if data, err := os.ReadFile(p); err == nil {
			facts = append(facts, string(data))
			break
		}
	}
	return facts
}
