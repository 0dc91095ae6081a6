// Package mention maps free-text message content to the set of chat members
// it mentions. Matching is a pure function over the content and a roster,
// so it can be tested without any store.
package mention

import (
	"regexp"
	"strings"

	"github.com/orgchat/internal/model"
)

// Tokens look like @username, @first.last, @email or a literal @uuid.
var (
	tokenRe = regexp.MustCompile(`@([\w.\-]+@?[\w.\-]*)`)
	uuidRe  = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

// Tokens extracts the raw mention tokens from content, in order, without
// the leading "@".
func Tokens(content string) []string {
	matches := tokenRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, strings.TrimSpace(m[1]))
	}
	return tokens
}

// Resolve maps content to a deduplicated set of mentioned user ids from the
// roster. Per token the first rule that matches wins: exact user id (UUID),
// then exact email (case-insensitive), then name matching in roster order.
// Name matching accepts an exact first/last/full/reversed-full name, a
// substring of the full name, or a prefix of the first or last name.
// The returned order follows first mention.
func Resolve(content string, roster []model.RosterMember) []string {
	tokens := Tokens(content)
	if len(tokens) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(tokens))
	ids := make([]string, 0, len(tokens))
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	for _, token := range tokens {
		lower := strings.ToLower(token)

		if uuidRe.MatchString(lower) {
			for _, m := range roster {
				if strings.EqualFold(m.UserID, lower) {
					add(m.UserID)
					break
				}
			}
			continue
		}

		if strings.Contains(lower, "@") {
			for _, m := range roster {
				if m.Email != "" && strings.EqualFold(m.Email, lower) {
					add(m.UserID)
					break
				}
			}
			continue
		}

		// Name rules: ambiguity resolves to the first roster match.
		for _, m := range roster {
			if matchName(m, lower) {
				add(m.UserID)
				break
			}
		}
	}
	return ids
}

func matchName(m model.RosterMember, lower string) bool {
	first := strings.ToLower(m.FirstName)
	last := strings.ToLower(m.LastName)
	full := strings.TrimSpace(first + " " + last)
	reversed := strings.TrimSpace(last + " " + first)

	if first == "" && last == "" {
		return false
	}
	switch lower {
	case first, last, full, reversed:
		return true
	}
	if full != "" && strings.Contains(full, lower) {
		return true
	}
	if first != "" && strings.HasPrefix(first, lower) {
		return true
	}
	if last != "" && strings.HasPrefix(last, lower) {
		return true
	}
	return false
}
