package manager

import (
	"fmt"
	"sort"
	"strings"
)

// Dump renders a diagnostic snapshot of the manager state: enabled users,
// cached locations, registrations and the merged request, followed by the
// recent event history.
func (m *Manager) Dump() string {
	m.mu.Lock()

	var b strings.Builder
	fmt.Fprintf(&b, "provider %s", m.name)
	if m.mock != nil {
		b.WriteString(" [mock]")
	}
	if !m.started {
		b.WriteString(" [stopped]")
	}
	b.WriteString("\n")

	users := make([]int, 0, len(m.enabled))
	for u := range m.enabled {
		users = append(users, u)
	}
	sort.Ints(users)
	for _, u := range users {
		fmt.Fprintf(&b, "  user %d: enabled=%t", u, m.enabled[u])
		if c := m.lastLocations[u]; c != nil && c.fineNormal != nil {
			fmt.Fprintf(&b, " last=%.5f,%.5f", c.fineNormal.Latitude, c.fineNormal.Longitude)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "  registrations: %d\n", len(m.order))
	for _, key := range m.order {
		r := m.regs[key]
		if r == nil {
			continue
		}
		fmt.Fprintf(&b, "    %s %s %s level=%s active=%t delivered=%d\n",
			key, r.identity, r.effective, r.level, r.active, r.numDelivered)
	}

	fmt.Fprintf(&b, "  merged: %s\n", m.merged)
	if m.delayedAlarm != nil {
		b.WriteString("  delayed request apply pending\n")
	}
	m.mu.Unlock()

	b.WriteString("  events:\n")
	for _, rec := range m.events.Records() {
		fmt.Fprintf(&b, "    %s\n", rec)
	}
	return b.String()
}
