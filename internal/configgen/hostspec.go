package configgen

import (
	"fmt"
	"strconv"
	"strings"

	"evalgo.org/chainmgr/internal/apperr"
	"evalgo.org/chainmgr/internal/netutil"
	"evalgo.org/chainmgr/models"
)

// HostSpec is one entry of the initial topology of a chain.
type HostSpec struct {
	IP      string `json:"ip"`
	Count   int    `json:"count"`
	Agency  string `json:"agency"`
	GroupID int    `json:"groupId"`
}

// ParseHostSpecs parses entries of the form ip[:count[:agency[:groupId]]].
// Count defaults to 1, the group to models.DefaultGroupID and the agency to
// agency<N> where N is the 1-based ordinal of the entry. maxPerHost caps the
// count of a single entry.
func ParseHostSpecs(specs []string, maxPerHost int) ([]HostSpec, error) {
	if len(specs) == 0 {
		return nil, apperr.InvalidArgumentf("at least one host is required")
	}

	seen := make(map[string]struct{}, len(specs))
	out := make([]HostSpec, 0, len(specs))
	for i, raw := range specs {
		parts := strings.Split(strings.TrimSpace(raw), ":")
		if len(parts) > 4 {
			return nil, apperr.InvalidArgumentf("malformed host spec %q", raw)
		}

		spec := HostSpec{
			IP:      parts[0],
			Count:   1,
			Agency:  fmt.Sprintf("agency%d", i+1),
			GroupID: models.DefaultGroupID,
		}
		if !netutil.ValidIPv4(spec.IP) {
			return nil, apperr.InvalidArgumentf("invalid ip %q in host spec", spec.IP)
		}
		if _, dup := seen[spec.IP]; dup {
			return nil, apperr.InvalidArgumentf("duplicate ip %s in host specs", spec.IP)
		}
		seen[spec.IP] = struct{}{}

		if len(parts) > 1 && parts[1] != "" {
			n, err := strconv.Atoi(parts[1])
			if err != nil || n <= 0 {
				return nil, apperr.InvalidArgumentf("invalid node count %q for %s", parts[1], spec.IP)
			}
			spec.Count = n
		}
		if spec.Count > maxPerHost {
			return nil, apperr.ConstraintViolationf("host %s: %d nodes exceeds the maximum of %d per host",
				spec.IP, spec.Count, maxPerHost)
		}
		if len(parts) > 2 && strings.TrimSpace(parts[2]) != "" {
			spec.Agency = strings.TrimSpace(parts[2])
		}
		if len(parts) > 3 && parts[3] != "" {
			g, err := strconv.Atoi(parts[3])
			if err != nil || g <= 0 {
				return nil, apperr.InvalidArgumentf("invalid group id %q for %s", parts[3], spec.IP)
			}
			spec.GroupID = g
		}
		out = append(out, spec)
	}
	return out, nil
}
