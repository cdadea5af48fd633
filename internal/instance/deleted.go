package instance

// Reasons reported for removed entries of a delta payload.
const (
	RemovedDeleted = "deleted"
	RemovedChanged = "changed"
)

// DeletedResource is a removal entry of a delta resource set.
type DeletedResource struct {
	ID       string                 `json:"@id,omitempty"`
	Reason   string                 `json:"reason,omitempty"`
	TypeName string                 `json:"@type,omitempty"`
	Keys     map[string]interface{} `json:"keys,omitempty"`
}
