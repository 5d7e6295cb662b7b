package seed

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"go4.org/netipx"

	"github.com/anstrom/mcscan/internal/db"
	"github.com/anstrom/mcscan/internal/errors"
)

// Expansion limits.
const (
	MaxHosts   = 1 << 24
	MaxSockets = 50_000_000
)

// Preset is a named host and port range.
type Preset struct {
	Hosts []string
	Ports string
}

// Presets are the built-in ranges accepted by "seed range --preset".
var Presets = map[string]Preset{
	"ngrok": {
		Hosts: []string{
			"0.tcp.eu.ngrok.io", "1.tcp.eu.ngrok.io", "2.tcp.eu.ngrok.io", "3.tcp.eu.ngrok.io",
			"4.tcp.eu.ngrok.io", "5.tcp.eu.ngrok.io", "6.tcp.eu.ngrok.io", "7.tcp.eu.ngrok.io",
			"8.tcp.eu.ngrok.io", "9.tcp.eu.ngrok.io",
		},
		Ports: "1-65535",
	},
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParsePorts parses a comma separated list of ports and ranges such as
// "25565,25560-25570". The result is sorted and unique.
func ParsePorts(spec string) ([]int, error) {
	seen := make(map[int]struct{})
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi := part, part
		if i := strings.IndexByte(part, '-'); i >= 0 {
			lo, hi = part[:i], part[i+1:]
		}
		start, err1 := parsePort(lo)
		end, err2 := parsePort(hi)
		if err1 != nil || err2 != nil || start > end {
			return nil, errors.NewScanErrorWithTarget(errors.CodeValidation, "invalid port specification", part)
		}
		for p := start; p <= end; p++ {
			seen[p] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, errors.NewScanError(errors.CodeValidation, "no ports specified")
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("port %d out of range", p)
	}
	return p, nil
}

// ExpandHosts turns host specs into host names. A spec is a host name, an IP
// address, a CIDR prefix or an "from-to" address range. Address specs are
// merged, so overlapping ranges yield each address once; IPv4 prefixes
// shorter than /31 drop their network and broadcast addresses. Names keep
// their input order and come first.
func ExpandHosts(specs []string) ([]string, error) {
	var names []string
	seenNames := make(map[string]struct{})
	var builder netipx.IPSetBuilder
	addresses := 0

	for _, raw := range specs {
		spec := strings.TrimSpace(raw)
		if spec == "" {
			continue
		}

		switch {
		case strings.Contains(spec, "/"):
			prefix, err := netip.ParsePrefix(spec)
			if err != nil {
				return nil, errors.ErrInvalidTarget(spec)
			}
			prefix = prefix.Masked()
			builder.AddPrefix(prefix)
			if prefix.Addr().Is4() && prefix.Bits() < 31 {
				r := netipx.RangeOfPrefix(prefix)
				builder.Remove(r.From())
				builder.Remove(r.To())
			}
			addresses++

		case strings.Contains(spec, "-") && !isHostName(spec):
			r, err := netipx.ParseIPRange(spec)
			if err != nil {
				return nil, errors.ErrInvalidTarget(spec)
			}
			builder.AddRange(r)
			addresses++

		default:
			if addr, err := netip.ParseAddr(spec); err == nil {
				builder.Add(addr.Unmap())
				addresses++
				continue
			}
			if !isHostName(spec) {
				return nil, errors.ErrInvalidTarget(spec)
			}
			if _, dup := seenNames[spec]; !dup {
				seenNames[spec] = struct{}{}
				names = append(names, spec)
			}
		}
	}

	if addresses == 0 {
		return names, nil
	}

	set, err := builder.IPSet()
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeTargetInvalid, "invalid address set", err)
	}

	out := names
	for _, r := range set.Ranges() {
		for addr := r.From(); ; addr = addr.Next() {
			if len(out)-len(names) >= MaxHosts {
				return nil, errors.NewScanError(errors.CodeValidation,
					fmt.Sprintf("address ranges expand to more than %d hosts", MaxHosts))
			}
			out = append(out, addr.String())
			if addr == r.To() {
				break
			}
		}
	}
	return out, nil
}

// isHostName reports whether s looks like a DNS name rather than an address.
func isHostName(s string) bool {
	if len(s) > 253 {
		return false
	}
	hasLetter := false
	for _, label := range strings.Split(strings.TrimSuffix(s, "."), ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
				hasLetter = true
			case c >= '0' && c <= '9', c == '-':
			default:
				return false
			}
		}
	}
	return hasLetter
}

// Expand builds the cross product of host specs and a port specification.
func Expand(hostSpecs []string, portSpec string) ([]*db.Socket, error) {
	hosts, err := ExpandHosts(hostSpecs)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, errors.NewScanError(errors.CodeValidation, "no hosts specified")
	}
	ports, err := ParsePorts(portSpec)
	if err != nil {
		return nil, err
	}
	if len(hosts)*len(ports) > MaxSockets {
		return nil, errors.NewScanError(errors.CodeValidation,
			fmt.Sprintf("%d hosts x %d ports exceeds %d sockets", len(hosts), len(ports), MaxSockets))
	}

	sockets := make([]*db.Socket, 0, len(hosts)*len(ports))
	for _, name := range hosts {
		host := &db.Host{Name: name}
		for _, port := range ports {
			sockets = append(sockets, db.NewSocket(host, port))
		}
	}
	return sockets, nil
}

// ExpandPreset builds the sockets of a named preset.
func ExpandPreset(name string) ([]*db.Socket, error) {
	preset, ok := Presets[strings.ToLower(name)]
	if !ok {
		return nil, errors.NewScanErrorWithTarget(errors.CodeValidation,
			fmt.Sprintf("unknown preset, expected one of %s", strings.Join(PresetNames(), ", ")), name)
	}
	return Expand(preset.Hosts, preset.Ports)
}
