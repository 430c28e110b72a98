package access

// wouldDeadlock walks the wait-for graph: requester -> holders of what it
// wants -> whatever those owners are themselves queued behind. A path back to
// the requester means granting this wait can never complete, so the request
// is failed fast instead of parked forever. Callers must hold m.mu.
func (m *Manager) wouldDeadlock(owner string, names []string) bool {
	visited := make(map[string]bool)

	var blockedOn func(o string) bool
	blockedOn = func(o string) bool {
		if o == owner {
			return true
		}
		if visited[o] {
			return false
		}
		visited[o] = true

		// resources owner o is queued for
		for _, w := range m.waiters {
			if w.owner != o || w.granted {
				continue
			}
			for _, n := range w.names {
				h, ok := m.holders[n]
				if !ok || h == o {
					continue
				}
				if blockedOn(h) {
					return true
				}
			}
		}
		return false
	}

	for _, n := range names {
		h, ok := m.holders[n]
		if !ok || h == owner {
			continue
		}
		if blockedOn(h) {
			return true
		}
	}
	return false
}
