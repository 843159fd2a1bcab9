package report

import "strings"

// CanDelete reports whether requesterID created r. Identifiers are compared
// as trimmed strings since front-ends pass numeric chat IDs as text.
func CanDelete(r Report, requesterID string) bool {
	id := strings.TrimSpace(requesterID)
	return id != "" && id == strings.TrimSpace(r.CreatorID)
}
