package model

import (
	"strings"
	"time"
)

// RemoteAccount is a stored credential for one remote judge site.
type RemoteAccount struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // provider key, dot scoped e.g. "codeforces.gym"
	Handle   string `json:"handle"`
	Password string `json:"-"`
	// Cookie holds serialized "name=value" session cookies.
	Cookie       []string          `json:"cookie,omitempty"`
	Endpoint     string            `json:"endpoint,omitempty"`
	Proxy        string            `json:"proxy,omitempty"`
	ProblemLists []string          `json:"problemLists,omitempty"`
	EnableOn     []string          `json:"enableOn,omitempty"`
	Session      map[string]string `json:"session,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Key identifies the account in logs and status reports.
func (a RemoteAccount) Key() string {
	return a.Type + "/" + a.Handle
}

// TypeRoot is the first dot segment of Type; tasks are routed by it.
func TypeRoot(accountType string) string {
	if i := strings.IndexByte(accountType, '.'); i >= 0 {
		return accountType[:i]
	}
	return accountType
}

// TypeRoot returns the provider root key of the account.
func (a RemoteAccount) TypeRoot() string {
	return TypeRoot(a.Type)
}

// EnabledOn reports whether this account may run on host.
// An empty allow-list enables the account everywhere.
func (a RemoteAccount) EnabledOn(host string) bool {
	if len(a.EnableOn) == 0 {
		return true
	}
	for _, h := range a.EnableOn {
		if h == host {
			return true
		}
	}
	return false
}

// AccountPatch is the state a Provider persists through its save callback.
// Nil fields are left untouched.
type AccountPatch struct {
	Cookie  []string          `json:"cookie,omitempty"`
	Session map[string]string `json:"session,omitempty"`
}

// Empty reports whether the patch carries nothing to store.
func (p AccountPatch) Empty() bool {
	return p.Cookie == nil && p.Session == nil
}

// AccountStatus is the health report for one account.
type AccountStatus struct {
	Working  bool           `json:"working"`
	Syncing  bool           `json:"syncing"`
	Error    string         `json:"error,omitempty"`
	Provider map[string]any `json:"provider,omitempty"`
	Host     string         `json:"host,omitempty"`
	At       time.Time      `json:"at"`
}
