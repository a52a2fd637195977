package domain

import "strings"

// LookupKind names one of the admin-managed lookup tables.
type LookupKind string

const (
	LookupCategory     LookupKind = "category"
	LookupManufacturer LookupKind = "manufacturer"
	LookupUnit         LookupKind = "unit"
	LookupCondition    LookupKind = "condition"
)

// LookupEntry is one row of a lookup table: a canonical name plus optional
// aliases. Resolution is case-insensitive exact match against the name or
// any alias.
type LookupEntry struct {
	ID      int64
	Kind    LookupKind
	Name    string
	Aliases []string
}

// MatchesName reports whether the entry resolves the given free-text name.
func (e *LookupEntry) MatchesName(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	if strings.ToLower(e.Name) == name {
		return true
	}
	for _, a := range e.Aliases {
		if strings.ToLower(a) == name {
			return true
		}
	}
	return false
}

// JargonEntry is one admin-curated abbreviation and its expansion, applied
// to message text before extraction. The stored message body is never
// changed by expansion.
type JargonEntry struct {
	ID        int64
	Term      string
	Expansion string
}
