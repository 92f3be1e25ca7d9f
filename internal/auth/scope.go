package auth

import "strings"

// Filter is a client supplied equality filter, e.g. parsed query parameters.
type Filter map[string]string

// tenantKeys are filter keys that address a tenant.
var tenantKeys = []string{"tenant_id", "organization_id", "org_id"}

// TenantScope forces tenant-scoped callers onto their own tenant.
type TenantScope struct {
	scoped map[Role]bool
}

// NewTenantScope builds an enforcer from role descriptors.
func NewTenantScope(descs []Descriptor) *TenantScope {
	ts := &TenantScope{scoped: make(map[Role]bool, len(descs))}
	for _, d := range descs {
		ts.scoped[d.Role] = d.TenantScoped
	}
	return ts
}

// TenantScoped reports whether role is confined to a tenant.
func (ts *TenantScope) TenantScoped(role Role) bool {
	return ts.scoped[role]
}

// Scope returns a copy of f. For tenant-scoped callers every tenant key is
// replaced by the caller's tenant and tenant_id is always present.
func (ts *TenantScope) Scope(p Payload, f Filter) Filter {
	out := make(Filter, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	if !ts.scoped[p.Role] {
		return out
	}
	for k := range out {
		if isTenantKey(k) {
			out[k] = p.TenantID
		}
	}
	out["tenant_id"] = p.TenantID
	return out
}

// Permits reports whether p may access a resource owned by tenantID.
func (ts *TenantScope) Permits(p Payload, tenantID string) bool {
	if !ts.scoped[p.Role] {
		return true
	}
	return p.TenantID != "" && p.TenantID == tenantID
}

// ActorFilter converts a scoped filter into a store query.
func (f Filter) ActorFilter() ActorFilter {
	role := Role(f["role"])
	if r, ok := ParseRole(f["role"]); ok {
		role = r
	}
	return ActorFilter{
		Role:     role,
		TenantID: f["tenant_id"],
		Status:   ActorStatus(strings.ToLower(f["status"])),
	}
}

func isTenantKey(k string) bool {
	k = strings.ToLower(strings.TrimSpace(k))
	for _, t := range tenantKeys {
		if k == t {
			return true
		}
	}
	return false
}
