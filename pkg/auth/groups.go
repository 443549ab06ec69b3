package auth

import (
	"slices"
	"strings"

	"gopkg.in/ini.v1"

	sserr "github.com/StricklySoft/stricklysoft-realm/pkg/errors"
)

// GroupPermissionMap maps provider-side group names to the permission
// strings they grant. It is immutable after construction and safe for
// concurrent use. A nil map grants nothing.
type GroupPermissionMap struct {
	byGroup map[string][]string
	order   []string
}

// NewGroupPermissionMap copies m into a GroupPermissionMap. Permission
// lists are trimmed and deduplicated.
func NewGroupPermissionMap(m map[string][]string) *GroupPermissionMap {
	gpm := &GroupPermissionMap{byGroup: make(map[string][]string, len(m))}
	for group, perms := range m {
		gpm.add(group, perms)
	}
	slices.Sort(gpm.order)
	return gpm
}

// ParseGroupPermissions loads a group to permissions table from ini text.
// Two layouts are accepted and may be mixed:
//
//	[admin]
//	*
//
//	[finance]
//	invoice:read, payment:read
//
//	[groups]
//	support = account:read, invoice:read
//
// A line without "=" lists permissions for the group named by its
// section. A "group = permissions" line maps group directly, in any
// section. Permission lists are comma-separated, so subpart lists such
// as "invoice:read,write" must be written as separate permissions.
// Repeated groups accumulate. Empty text yields an empty map.
func ParseGroupPermissions(text string) (*GroupPermissionMap, error) {
	gpm := &GroupPermissionMap{byGroup: map[string][]string{}}
	if strings.TrimSpace(text) == "" {
		return gpm, nil
	}

	f, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:    true,
		KeyValueDelimiters:  "=",
		IgnoreInlineComment: true,
	}, []byte(text))
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "auth: invalid group permissions table")
	}

	for _, section := range f.Sections() {
		for _, key := range section.Keys() {
			// Bare lines are loaded as boolean keys whose value is "true".
			if key.Value() == "true" {
				if section.Name() == ini.DefaultSection {
					continue
				}
				gpm.add(section.Name(), splitPermissions(key.Name()))
				continue
			}
			gpm.add(key.Name(), splitPermissions(key.Value()))
		}
	}

	slices.Sort(gpm.order)
	return gpm, nil
}

func (m *GroupPermissionMap) add(group string, perms []string) {
	group = strings.TrimSpace(group)
	if group == "" {
		return
	}
	existing, ok := m.byGroup[group]
	if !ok {
		m.order = append(m.order, group)
	}
	for _, p := range perms {
		if p = strings.TrimSpace(p); p != "" && !slices.Contains(existing, p) {
			existing = append(existing, p)
		}
	}
	m.byGroup[group] = existing
}

func splitPermissions(s string) []string {
	return strings.Split(s, ",")
}

// Permissions returns a copy of the permissions granted to group, or nil
// if the group is not mapped.
func (m *GroupPermissionMap) Permissions(group string) []string {
	if m == nil {
		return nil
	}
	return slices.Clone(m.byGroup[group])
}

// Resolve returns the union of the permissions granted to groups, in
// first-seen order. Unmapped groups contribute nothing.
func (m *GroupPermissionMap) Resolve(groups []string) []string {
	if m == nil {
		return []string{}
	}
	out := []string{}
	seen := map[string]struct{}{}
	for _, g := range groups {
		for _, p := range m.byGroup[g] {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Groups returns the mapped group names in sorted order.
func (m *GroupPermissionMap) Groups() []string {
	if m == nil {
		return nil
	}
	return slices.Clone(m.order)
}

// Len returns the number of mapped groups.
func (m *GroupPermissionMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.byGroup)
}
