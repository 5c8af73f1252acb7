package resolve

import (
	"fmt"
	"strings"
)

// Target identifies one resolution pass: which platform builds it,
// where it lands, what OS it images, and optionally the instance name
// and address. Constructed once per invocation and never mutated.
type Target struct {
	Platform string
	Location string
	Spec     string // index key, e.g. "rocky-9.4-x86_64"
	Name     string // instance name; defaults to the spec key
	IP       string // explicit address; resolved via DNS when empty
}

// ParseTarget parses a "platform/location/spec" identifier plus the
// optional name and ip arguments.
func ParseTarget(identifier, name, ip string) (Target, error) {
	parts := strings.Split(identifier, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Target{}, fmt.Errorf("target %q: want platform/location/spec", identifier)
	}
	t := Target{
		Platform: parts[0],
		Location: parts[1],
		Spec:     parts[2],
		Name:     name,
		IP:       ip,
	}
	if t.Name == "" {
		t.Name = t.Spec
	}
	return t, nil
}

func (t Target) String() string {
	return t.Platform + "/" + t.Location + "/" + t.Spec
}
