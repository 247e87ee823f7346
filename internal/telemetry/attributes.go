package telemetry

// Attribute keys used on gateway and store spans.
const (
	AttrRequestID = "http.request_id"
	AttrKey       = "store.key"
	AttrBackend   = "store.backend"
	AttrOperation = "store.operation"
	AttrBytes     = "store.bytes"
	AttrArray     = "array.prefix"
	AttrChunk     = "array.chunk"
)
