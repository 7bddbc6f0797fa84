package transport

// MessageKind identifies a websocket frame.
type MessageKind string

// Frame kinds.
const (
	// KindSubscribe asks the cloud to stream updates for every appliance
	// on the account. Sent once after connecting.
	KindSubscribe MessageKind = "subscribe"

	// KindPublish carries attribute changes for one appliance.
	KindPublish MessageKind = "publish"

	// KindAvailability reports an appliance going online or offline.
	KindAvailability MessageKind = "availability"

	// KindSet writes attribute values to an appliance.
	KindSet MessageKind = "set"

	// KindRequestUpdate asks for a full attribute dump of an appliance.
	KindRequestUpdate MessageKind = "request_update"

	// KindError reports a failed request.
	KindError MessageKind = "error"
)

// Message is a JSON websocket frame. Attribute values are opaque strings.
type Message struct {
	Kind        MessageKind       `json:"kind"`
	ID          string            `json:"id,omitempty"`
	UserID      string            `json:"userId,omitempty"`
	ApplianceID string            `json:"applianceId,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Available   *bool             `json:"available,omitempty"`
	Error       string            `json:"error,omitempty"`
}
