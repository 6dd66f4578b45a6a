package wifi

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// NMCLIBackend drives NetworkManager through the nmcli command line.
// There is no established Go library for station-mode association, and
// shelling out to nmcli is how NetworkManager expects non-privileged
// tools to drive it.
type NMCLIBackend struct {
	// Path overrides the nmcli binary location (default: "nmcli").
	Path string
}

func (b *NMCLIBackend) nmcli(ctx context.Context, args ...string) ([]byte, error) {
	path := b.Path
	if path == "" {
		path = "nmcli"
	}
	cmd := exec.CommandContext(ctx, path, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("nmcli %s: %w: %s",
			strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// Join asks NetworkManager to associate with the network. nmcli blocks
// until the connection activates or its own wait budget expires; the
// context bounds it further.
func (b *NMCLIBackend) Join(ctx context.Context, ssid, passphrase string) error {
	args := []string{"device", "wifi", "connect", ssid}
	if passphrase != "" {
		args = append(args, "password", passphrase)
	}
	_, err := b.nmcli(ctx, args...)
	return err
}

// Connected reports whether the active wifi connection is the given
// SSID, from `nmcli -t -f ACTIVE,SSID device wifi` terse output.
func (b *NMCLIBackend) Connected(ctx context.Context, ssid string) (bool, error) {
	out, err := b.nmcli(ctx, "-t", "-f", "ACTIVE,SSID", "device", "wifi")
	if err != nil {
		return false, err
	}
	return parseActiveSSID(out, ssid), nil
}

// Leave deactivates the connection profile nmcli created for the SSID.
func (b *NMCLIBackend) Leave(ctx context.Context, ssid string) error {
	_, err := b.nmcli(ctx, "connection", "down", "id", ssid)
	return err
}

// parseActiveSSID scans terse ACTIVE:SSID lines for an active entry
// matching ssid. nmcli escapes ":" in SSIDs with a backslash.
func parseActiveSSID(out []byte, ssid string) bool {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		active, rest, found := strings.Cut(line, ":")
		if !found || active != "yes" {
			continue
		}
		if strings.ReplaceAll(rest, `\:`, ":") == ssid {
			return true
		}
	}
	return false
}

// StaticBackend represents a link managed outside this process (wired
// ethernet, or a supplicant someone else owns). Join and Leave are
// no-ops and the link always reports up; the MQTT layer still detects
// real outages through its own dial and publish failures.
type StaticBackend struct{}

func (StaticBackend) Join(ctx context.Context, ssid, passphrase string) error { return nil }

func (StaticBackend) Connected(ctx context.Context, ssid string) (bool, error) { return true, nil }

func (StaticBackend) Leave(ctx context.Context, ssid string) error { return nil }
