// Package fun serves novelty replies from a configured response table.
package fun

import (
	"math/rand"
	"sort"
	"strings"
)

// Table maps an entry name such as "8ball" to its candidate replies.
// A reply may contain {user}, replaced with the caller's mention.
type Table struct {
	entries map[string][]string
	intn    func(n int) int
}

func NewTable(entries map[string][]string) *Table {
	clean := make(map[string][]string, len(entries))
	for name, replies := range entries {
		name = strings.ToLower(strings.TrimSpace(name))
		var kept []string
		for _, reply := range replies {
			if strings.TrimSpace(reply) != "" {
				kept = append(kept, reply)
			}
		}
		if name != "" && len(kept) > 0 {
			clean[name] = kept
		}
	}
	return &Table{entries: clean, intn: rand.Intn}
}

func (t *Table) WithRand(intn func(n int) int) {
	t.intn = intn
}

// Names is sorted so command choices stay stable between restarts.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Table) Pick(name, mention string) (string, bool) {
	replies, ok := t.entries[strings.ToLower(name)]
	if !ok {
		return "", false
	}
	reply := replies[t.intn(len(replies))]
	return strings.ReplaceAll(reply, "{user}", mention), true
}
