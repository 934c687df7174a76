package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

// DeviceFingerprint carries the hashed machine identity and the raw
// components it was derived from.
type DeviceFingerprint struct {
	Fingerprint string    `json:"fingerprint"`
	MachineID   string    `json:"machine_id"`
	Hostname    string    `json:"hostname"`
	OS          string    `json:"os"`
	Platform    string    `json:"platform"`
	Fallback    bool      `json:"fallback"`
	GeneratedAt time.Time `json:"generated_at"`
}

// FingerprintManager derives a stable hardware fingerprint for the
// current machine. Results are cached because the OS probes shell out
// on some platforms.
type FingerprintManager struct {
	cache         *DeviceFingerprint
	cacheMutex    sync.RWMutex
	cacheExpiry   time.Time
	cacheDuration time.Duration

	// machineID is swappable so tests can pin a fingerprint.
	machineID func() (string, error)
}

// NewFingerprintManager creates a fingerprint manager with a one hour
// result cache.
func NewFingerprintManager() *FingerprintManager {
	fm := &FingerprintManager{
		cacheDuration: 1 * time.Hour,
	}
	fm.machineID = fm.getMachineID
	return fm
}

// CurrentFingerprint returns the hashed fingerprint string for this
// machine. It never fails: when every stable identifier probe comes up
// empty it degrades to a MAC/hostname/pid derived value.
func (fm *FingerprintManager) CurrentFingerprint() string {
	return fm.Generate().Fingerprint
}

// Generate builds the full device fingerprint, using the cached value
// when it is still fresh.
func (fm *FingerprintManager) Generate() *DeviceFingerprint {
	fm.cacheMutex.RLock()
	if fm.cache != nil && time.Now().Before(fm.cacheExpiry) {
		cached := *fm.cache
		fm.cacheMutex.RUnlock()
		return &cached
	}
	fm.cacheMutex.RUnlock()

	start := time.Now()

	hostname, err := fm.GetHostname()
	if err != nil {
		hostname = "unknown-host"
		slog.Warn("Failed to get hostname, using fallback",
			slog.String("error", err.Error()),
		)
	}

	machineID, err := fm.machineID()
	fallback := false
	if err != nil || machineID == "" {
		machineID = fm.fallbackID()
		fallback = true
		slog.Warn("No stable machine identifier found, using fallback components",
			slog.String("os", runtime.GOOS),
		)
	}

	combined := strings.Join([]string{machineID, hostname}, "|")
	hash := sha256.Sum256([]byte(combined))
	fingerprint := strings.ToUpper(hex.EncodeToString(hash[:16]))

	result := &DeviceFingerprint{
		Fingerprint: fingerprint,
		MachineID:   machineID,
		Hostname:    hostname,
		OS:          runtime.GOOS,
		Platform:    runtime.GOARCH,
		Fallback:    fallback,
		GeneratedAt: time.Now(),
	}

	fm.cacheMutex.Lock()
	fm.cache = result
	fm.cacheExpiry = time.Now().Add(fm.cacheDuration)
	fm.cacheMutex.Unlock()

	slog.Debug("Device fingerprint generated",
		slog.String("fingerprint", fingerprint),
		slog.String("hostname", hostname),
		slog.Bool("fallback", fallback),
		slog.Duration("generation_time", time.Since(start)),
	)

	return result
}

// GetHostname retrieves the normalized machine hostname.
func (fm *FingerprintManager) GetHostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", fmt.Errorf("hostname is empty")
	}

	return hostname, nil
}

// getMachineID probes the OS for a stable machine identifier.
func (fm *FingerprintManager) getMachineID() (string, error) {
	switch runtime.GOOS {
	case "windows":
		return fm.getMachineIDWindows()
	case "linux":
		return fm.getMachineIDLinux()
	case "darwin":
		return fm.getMachineIDDarwin()
	default:
		return "", fmt.Errorf("no machine identifier probe for %s", runtime.GOOS)
	}
}

// getMachineIDWindows reads the MachineGuid from the registry, falling
// back to the motherboard serial via wmic.
func (fm *FingerprintManager) getMachineIDWindows() (string, error) {
	out, err := exec.Command("reg", "query",
		`HKLM\SOFTWARE\Microsoft\Cryptography`, "/v", "MachineGuid").Output()
	if err == nil {
		for _, line := range strings.Split(string(out), "\n") {
			if strings.Contains(line, "MachineGuid") {
				fields := strings.Fields(line)
				if len(fields) >= 3 {
					return strings.TrimSpace(fields[len(fields)-1]), nil
				}
			}
		}
	}

	out, err = exec.Command("wmic", "baseboard", "get", "serialnumber").Output()
	if err == nil {
		lines := strings.Split(strings.TrimSpace(string(out)), "\n")
		if len(lines) >= 2 {
			serial := strings.TrimSpace(lines[1])
			if serial != "" && !strings.EqualFold(serial, "none") {
				return serial, nil
			}
		}
	}

	if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
		return procID, nil
	}

	return "", fmt.Errorf("no windows machine identifier available")
}

// getMachineIDLinux reads the systemd machine-id, falling back to the
// dbus location.
func (fm *FingerprintManager) getMachineIDLinux() (string, error) {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("no linux machine-id available")
}

// getMachineIDDarwin extracts the IOPlatformUUID via ioreg.
func (fm *FingerprintManager) getMachineIDDarwin() (string, error) {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return "", fmt.Errorf("ioreg query failed: %w", err)
	}

	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, "IOPlatformUUID") {
			parts := strings.Split(line, "\"")
			if len(parts) >= 4 {
				return parts[3], nil
			}
		}
	}

	return "", fmt.Errorf("IOPlatformUUID not found")
}

// fallbackID builds an identifier from the MAC address, hostname and
// process id. Less stable than the OS probes but always yields a value.
func (fm *FingerprintManager) fallbackID() string {
	mac, err := fm.GetMACAddress()
	if err != nil {
		mac = "unknown-mac"
	}
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s|%s|%d", mac, hostname, os.Getpid())
}

// GetMACAddress retrieves the primary network interface MAC address.
func (fm *FingerprintManager) GetMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	// Prefer up, non-loopback interfaces.
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if len(iface.HardwareAddr) > 0 {
			mac := iface.HardwareAddr.String()
			if mac != "" && mac != "00:00:00:00:00:00" {
				return mac, nil
			}
		}
	}

	for _, iface := range interfaces {
		if len(iface.HardwareAddr) > 0 {
			mac := iface.HardwareAddr.String()
			if mac != "" && mac != "00:00:00:00:00:00" {
				slog.Warn("Using fallback MAC address",
					slog.String("interface", iface.Name),
					slog.String("mac", mac),
				)
				return mac, nil
			}
		}
	}

	return "", fmt.Errorf("no valid MAC address found")
}

// ValidateFingerprint reports whether the stored fingerprint matches
// the current machine.
func (fm *FingerprintManager) ValidateFingerprint(stored string) bool {
	current := fm.CurrentFingerprint()
	matches := current == stored

	slog.Debug("Device fingerprint validation",
		slog.String("stored", stored),
		slog.String("current", current),
		slog.Bool("matches", matches),
	)

	return matches
}

// ClearCache drops the cached fingerprint, forcing regeneration on the
// next call.
func (fm *FingerprintManager) ClearCache() {
	fm.cacheMutex.Lock()
	defer fm.cacheMutex.Unlock()

	fm.cache = nil
	fm.cacheExpiry = time.Time{}
}

// WithMachineID overrides the machine identifier probe. Test hook.
func (fm *FingerprintManager) WithMachineID(f func() (string, error)) *FingerprintManager {
	fm.machineID = f
	return fm
}
