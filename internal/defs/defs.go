package defs

import (
	"fmt"
	"math"
	"net/netip"
	"sort"
	"strconv"
	"strings"
)

// Defs is the definition table consulted during template substitution.
// Keys are definition names, values keep their native type from the
// layer documents (string, float64, bool, sequences, mappings).
type Defs map[string]any

// New returns an empty definition table.
func New() Defs {
	return Defs{}
}

// Get looks up a definition by name.
func (d Defs) Get(name string) (any, bool) {
	v, ok := d[name]
	return v, ok
}

// GetString looks up a definition and formats it as a string.
func (d Defs) GetString(name string) (string, bool) {
	v, ok := d[name]
	if !ok {
		return "", false
	}
	return Format(v), true
}

// Set stores one definition.
func (d Defs) Set(name string, value any) {
	d[name] = value
}

// Update copies every entry of src into the table, overwriting
// existing names. Later update calls therefore take precedence over
// earlier ones.
func (d Defs) Update(src map[string]any) {
	for k, v := range src {
		d[k] = v
	}
}

// Clone returns a shallow copy of the table.
func (d Defs) Clone() Defs {
	out := make(Defs, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Names returns the definition names in sorted order.
func (d Defs) Names() []string {
	names := make([]string, 0, len(d))
	for k := range d {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Format renders a definition value for substitution into a string
// context. Whole numbers print without a fractional part, so a JSON
// 4096 substitutes as "4096" and not "4096.000000". Sequences join
// their formatted elements with single spaces.
func Format(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(val))
		for _, elem := range val {
			parts = append(parts, Format(elem))
		}
		return strings.Join(parts, " ")
	case []string:
		return strings.Join(val, " ")
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Network holds the addressing facts derived from a CIDR block.
type Network struct {
	Subnet  string // network address, e.g. 192.168.1.0
	Prefix  string // prefix length, e.g. 24
	Netmask string // dotted mask, e.g. 255.255.255.0
	Gateway string // conventional gateway, the highest usable address
}

// DeriveNetwork computes subnet, prefix length, dotted netmask and the
// conventional gateway from an IPv4 CIDR block. The gateway follows
// the site convention of the highest usable host address, one below
// broadcast: 192.168.1.0/24 yields 192.168.1.254.
func DeriveNetwork(cidr string) (Network, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return Network{}, fmt.Errorf("parsing network %q: %w", cidr, err)
	}
	if !prefix.Addr().Is4() {
		return Network{}, fmt.Errorf("network %q: only IPv4 blocks are supported", cidr)
	}
	bits := prefix.Bits()
	if bits > 30 {
		return Network{}, fmt.Errorf("network %q: prefix /%d leaves no usable gateway", cidr, bits)
	}

	network := prefix.Masked().Addr().As4()
	addr := uint32(network[0])<<24 | uint32(network[1])<<16 | uint32(network[2])<<8 | uint32(network[3])
	size := uint32(1) << (32 - bits)
	gateway := addr + size - 2

	mask := ^uint32(0) << (32 - bits)
	return Network{
		Subnet:  prefix.Masked().Addr().String(),
		Prefix:  strconv.Itoa(bits),
		Netmask: ipString(mask),
		Gateway: ipString(gateway),
	}, nil
}

func ipString(v uint32) string {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}).String()
}

// ApplyNetwork writes a derived network into the table under the
// conventional names. Both gateway and its short alias gw are set.
func (d Defs) ApplyNetwork(n Network) {
	d["subnet"] = n.Subnet
	d["prefix"] = n.Prefix
	d["netmask"] = n.Netmask
	d["gateway"] = n.Gateway
	d["gw"] = n.Gateway
}

// ApplyDNS writes numbered resolver definitions (dns1, dns2, ...) and
// the space-joined search list under dns_search.
func (d Defs) ApplyDNS(servers []string, search []string) {
	for i, server := range servers {
		d["dns"+strconv.Itoa(i+1)] = server
	}
	if len(search) > 0 {
		d["dns_search"] = strings.Join(search, " ")
	}
}

// ApplyNTP writes numbered time-server definitions (ntp1, ntp2, ...).
func (d Defs) ApplyNTP(servers []string) {
	for i, server := range servers {
		d["ntp"+strconv.Itoa(i+1)] = server
	}
}

// SplitVersion breaks a dotted version into major and minor parts.
// "9.4" yields ("9", "4"); a version without a dot has an empty minor.
func SplitVersion(version string) (major, minor string) {
	major, minor, _ = strings.Cut(version, ".")
	return major, minor
}

// SplitName breaks a host name on dashes into numbered name parts, so
// "web-prd-01" produces name_part1 through name_part3. The parts feed
// naming conventions in templates.
func (d Defs) SplitName(name string) {
	for i, part := range strings.Split(name, "-") {
		d["name_part"+strconv.Itoa(i+1)] = part
	}
}
