package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID   key = "trace_id"
	RequestID key = "request_id"
	UserID    key = "user_id"
	// Account carries the remote account key (type/handle) a worker runs for.
	Account  key = "account"
	Provider key = "provider"
	RecordID key = "rid"
)

// String returns the raw key name, also used as the gin context key.
func (k key) String() string {
	return string(k)
}
