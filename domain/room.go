package domain

import "strings"

// DefaultRoom always exists, even with no members. Sessions that leave
// their room fall back into it.
const DefaultRoom = "Lobby"

// NormalizeRoom trims a requested room name and falls back to the
// default room when nothing is left. Room names are case-sensitive.
func NormalizeRoom(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return DefaultRoom
	}
	return trimmed
}
