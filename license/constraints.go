// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package license

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"

	"golang.org/x/exp/slices"
)

// compoundIDSalt is mixed into every hardware component before hashing
// so a leaked compound id cannot be reversed into raw hardware
// identifiers without also knowing this constant.
const compoundIDSalt = "corehub-license-v1"

const compoundIDPrefix = "v1:"

// HardwareID reads the three opaque hardware identifiers a compound
// machine id is built from. The default implementation inspects the
// local machine; tests supply a fake to get deterministic ids.
type HardwareID interface {
	CPUID() (string, error)
	MACAddress() (string, error)
	SystemID() (string, error)
}

// DefaultHardwareID reads identifiers from the running machine: the
// CPU model string (from /proc/cpuinfo where available, falling back
// to GOARCH), the hardware address of the first non-loopback network
// interface, and a persistent system id (/etc/machine-id, falling
// back to the hostname).
type DefaultHardwareID struct{}

func (DefaultHardwareID) CPUID() (string, error) {
	if b, err := os.ReadFile("/proc/cpuinfo"); err == nil {
		for _, line := range strings.Split(string(b), "\n") {
			if strings.HasPrefix(line, "model name") {
				if _, value, ok := strings.Cut(line, ":"); ok {
					return strings.TrimSpace(value), nil
				}
			}
		}
	}
	return runtime.GOARCH, nil
}

func (DefaultHardwareID) MACAddress() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", newError(MachineIDGeneration, "listing network interfaces", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String(), nil
	}
	return "", newError(MachineIDGeneration, "no non-loopback interface with a hardware address", nil)
}

func (DefaultHardwareID) SystemID() (string, error) {
	if b, err := os.ReadFile("/etc/machine-id"); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host, nil
	}
	return "", newError(MachineIDGeneration, "unable to determine a persistent system id", nil)
}

func hashComponent(raw string) string {
	sum := sha256.Sum256([]byte(compoundIDSalt + "|" + raw))
	return hex.EncodeToString(sum[:])
}

// generateMachineID returns this machine's compound id: "v1:" followed
// by three salted SHA-256 hex digests (cpu, mac, system id) joined
// with "|". It never returns the raw hardware strings.
func generateMachineID(hw HardwareID) (string, error) {
	cpu, err := hw.CPUID()
	if err != nil {
		return "", newError(MachineIDGeneration, "reading cpu id", err)
	}
	mac, err := hw.MACAddress()
	if err != nil {
		return "", newError(MachineIDGeneration, "reading mac address", err)
	}
	sys, err := hw.SystemID()
	if err != nil {
		return "", newError(MachineIDGeneration, "reading system id", err)
	}
	return compoundIDPrefix + strings.Join([]string{
		hashComponent(cpu), hashComponent(mac), hashComponent(sys),
	}, "|"), nil
}

// parseMachineID splits a compound id into its three components,
// rejecting anything that isn't exactly "v1:" plus three non-empty
// pipe-separated parts.
func parseMachineID(id string) ([3]string, error) {
	rest, ok := strings.CutPrefix(id, compoundIDPrefix)
	if !ok {
		return [3]string{}, newError(MachineIDGeneration, "compound id missing v1 prefix", nil)
	}
	parts := strings.Split(rest, "|")
	if len(parts) != 3 {
		return [3]string{}, newError(MachineIDGeneration, "compound id must have exactly three components", nil)
	}
	var out [3]string
	for i, p := range parts {
		if p == "" {
			return [3]string{}, newError(MachineIDGeneration, "compound id component is empty", nil)
		}
		out[i] = p
	}
	return out, nil
}

// bestMatch returns the largest number of components that current
// shares with any single id in allowed. Malformed entries in allowed
// are skipped rather than failing the whole comparison, since a
// license's id list may outlive a format change in one of its entries.
func bestMatch(current [3]string, allowed []string) int {
	best := 0
	for _, id := range allowed {
		parts, err := parseMachineID(id)
		if err != nil {
			continue
		}
		count := 0
		for _, p := range parts {
			if slices.Contains(current[:], p) {
				count++
			}
		}
		if count > best {
			best = count
		}
	}
	return best
}

func debugComponents(id string) string {
	parts, err := parseMachineID(id)
	if err != nil {
		return fmt.Sprintf("<invalid: %v>", err)
	}
	return strings.Join(parts[:], ",")
}
