package guard

import (
	"log/slog"
	"net/netip"
	"strings"
)

// AllowList admits addresses inside any configured network. An empty list
// admits everyone.
type AllowList struct {
	prefixes []netip.Prefix
}

// NewAllowList parses CIDR ranges and bare addresses. Entries that do not
// parse are logged and skipped.
func NewAllowList(entries []string, logger *slog.Logger) *AllowList {
	if logger == nil {
		logger = slog.Default()
	}

	al := &AllowList{}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				logger.Warn("Ignoring invalid allow-list entry", "entry", entry, "error", err)
				continue
			}
			al.prefixes = append(al.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			logger.Warn("Ignoring invalid allow-list entry", "entry", entry, "error", err)
			continue
		}
		addr = addr.Unmap()
		al.prefixes = append(al.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return al
}

// Empty reports whether the list admits everyone.
func (al *AllowList) Empty() bool {
	return al == nil || len(al.prefixes) == 0
}

// Allowed reports whether ip is admitted. Unparsable addresses are rejected
// unless the list is empty.
func (al *AllowList) Allowed(ip string) bool {
	if al.Empty() {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range al.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
