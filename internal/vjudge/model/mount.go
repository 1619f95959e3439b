package model

// Mount binds a platform domain to a remote catalogue.
type Mount struct {
	DomainID string `json:"domainId"`
	Provider string `json:"provider"`
	// SyncDone marks the lists that finished a first full pass for this domain.
	SyncDone map[string]bool `json:"syncDone"`
}

// Done reports whether list has completed its first pass.
func (m Mount) Done(list string) bool {
	return m.SyncDone != nil && m.SyncDone[list]
}
