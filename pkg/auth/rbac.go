package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	wildcardToken  = "*"
	partDivider    = ":"
	subpartDivider = ","
)

// Permission is a parsed wildcard permission string.
//
// A permission is a colon-separated list of parts, each of which is a
// comma-separated list of subparts:
//
//	"invoice:read"         -> [[invoice] [read]]
//	"invoice:read,write"   -> [[invoice] [read write]]
//	"invoice:*"            -> [[invoice] [*]]
//	"*"                    -> [[*]]
//
// Matching is case-insensitive. A permission with fewer parts implies
// every permission that extends it, so "invoice" implies
// "invoice:read:42". Extra trailing parts only imply when they are
// wildcards, so "invoice:read:*" implies "invoice:read".
type Permission struct {
	raw   string
	parts [][]string
}

// ParsePermission parses s as a wildcard permission. It returns an
// error for empty strings and for strings with an empty part such as
// "invoice::read".
func ParsePermission(s string) (Permission, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Permission{}, errors.New("auth: permission string is empty")
	}

	segments := strings.Split(strings.ToLower(trimmed), partDivider)
	parts := make([][]string, 0, len(segments))
	for _, seg := range segments {
		var sub []string
		for _, token := range strings.Split(seg, subpartDivider) {
			if token = strings.TrimSpace(token); token != "" {
				sub = append(sub, token)
			}
		}
		if len(sub) == 0 {
			return Permission{}, fmt.Errorf("auth: invalid permission string %q: empty part", s)
		}
		parts = append(parts, sub)
	}

	return Permission{raw: trimmed, parts: parts}, nil
}

// MustParsePermission is like [ParsePermission] but panics on error.
// It is intended for package-level permission constants.
func MustParsePermission(s string) Permission {
	p, err := ParsePermission(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the permission as it was written.
func (p Permission) String() string {
	return p.raw
}

// Implies reports whether holding p grants other. The zero Permission
// implies nothing and is implied by nothing.
func (p Permission) Implies(other Permission) bool {
	if len(p.parts) == 0 || len(other.parts) == 0 {
		return false
	}

	for i, otherPart := range other.parts {
		if i >= len(p.parts) {
			return true
		}
		part := p.parts[i]
		if !slices.Contains(part, wildcardToken) && !containsAll(part, otherPart) {
			return false
		}
	}

	for _, part := range p.parts[len(other.parts):] {
		if !slices.Contains(part, wildcardToken) {
			return false
		}
	}
	return true
}

// canonical is the lowercased, whitespace-free form used as a map key.
func (p Permission) canonical() string {
	parts := make([]string, len(p.parts))
	for i, part := range p.parts {
		parts[i] = strings.Join(part, subpartDivider)
	}
	return strings.Join(parts, partDivider)
}

func (p Permission) exact() bool {
	for _, part := range p.parts {
		if len(part) != 1 || part[0] == wildcardToken {
			return false
		}
	}
	return true
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}

// PermissionSet is an immutable collection of granted permissions.
//
// Permissions without wildcards or subpart lists are indexed for O(1)
// lookup. Everything else is kept in a slice and scanned with
// [Permission.Implies] when the exact lookup misses.
//
// PermissionSet is safe for concurrent read access after construction.
type PermissionSet struct {
	exact    map[string]struct{}
	patterns []Permission
	all      []string
}

// NewPermissionSet builds a set from permission strings. Duplicates are
// dropped. Strings that do not parse are skipped and reported in the
// returned slice so callers can log them.
func NewPermissionSet(perms []string) (*PermissionSet, []string) {
	ps := &PermissionSet{
		exact: make(map[string]struct{}, len(perms)),
	}
	seen := make(map[string]struct{}, len(perms))
	var invalid []string

	for _, s := range perms {
		p, err := ParsePermission(s)
		if err != nil {
			invalid = append(invalid, s)
			continue
		}
		key := p.canonical()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		ps.all = append(ps.all, p.raw)

		if p.exact() {
			ps.exact[key] = struct{}{}
		} else {
			ps.patterns = append(ps.patterns, p)
		}
	}

	return ps, invalid
}

// Implies reports whether any permission in the set implies perm.
// Unparsable perm strings are never implied.
func (ps *PermissionSet) Implies(perm string) bool {
	if ps == nil {
		return false
	}
	want, err := ParsePermission(perm)
	if err != nil {
		return false
	}
	return ps.ImpliesPermission(want)
}

// ImpliesPermission is [PermissionSet.Implies] for a parsed permission.
func (ps *PermissionSet) ImpliesPermission(want Permission) bool {
	if ps == nil {
		return false
	}
	key := want.canonical()
	if _, ok := ps.exact[key]; ok {
		return true
	}

	// Exact grants can still imply a longer permission, e.g.
	// "invoice:read" implies "invoice:read:42".
	for granted := range ps.exact {
		if strings.HasPrefix(key, granted+partDivider) {
			return true
		}
	}

	for _, p := range ps.patterns {
		if p.Implies(want) {
			return true
		}
	}
	return false
}

// Permissions returns a copy of the permission strings in insertion order.
func (ps *PermissionSet) Permissions() []string {
	if ps == nil {
		return nil
	}
	return slices.Clone(ps.all)
}

// Len returns the number of distinct permissions in the set.
func (ps *PermissionSet) Len() int {
	if ps == nil {
		return 0
	}
	return len(ps.all)
}

// AuthorizationInfo is the result of [Realm.Authorize]: the provider-side
// group names of a principal and the permission strings they grant.
type AuthorizationInfo struct {
	Groups      []string `json:"groups,omitempty"`
	Permissions []string `json:"permissions"`
}

// IsPermitted reports whether the info grants permission, honouring
// wildcard implication. A nil info permits nothing.
func (a *AuthorizationInfo) IsPermitted(permission string) bool {
	if a == nil {
		return false
	}
	set, _ := NewPermissionSet(a.Permissions)
	return set.Implies(permission)
}

// IsPermittedAll reports whether every given permission is granted.
// It returns false when no permissions are given.
func (a *AuthorizationInfo) IsPermittedAll(permissions ...string) bool {
	if a == nil || len(permissions) == 0 {
		return false
	}
	set, _ := NewPermissionSet(a.Permissions)
	for _, p := range permissions {
		if !set.Implies(p) {
			return false
		}
	}
	return true
}

// HasGroup reports whether the principal belongs to group.
func (a *AuthorizationInfo) HasGroup(group string) bool {
	if a == nil {
		return false
	}
	return slices.Contains(a.Groups, group)
}

// Empty reports whether the info carries no groups and no permissions.
func (a *AuthorizationInfo) Empty() bool {
	return a == nil || (len(a.Groups) == 0 && len(a.Permissions) == 0)
}

// Clone returns a deep copy of a.
func (a *AuthorizationInfo) Clone() *AuthorizationInfo {
	if a == nil {
		return nil
	}
	return &AuthorizationInfo{
		Groups:      slices.Clone(a.Groups),
		Permissions: slices.Clone(a.Permissions),
	}
}
