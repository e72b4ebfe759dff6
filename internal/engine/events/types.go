package events

// Event catalog. Webhook subscriptions are validated against this list at
// creation time, so the in-process membership filter never sees an unknown
// tag from our own publishers.
const (
	ProductCreated     = "product.created"
	ProductUpdated     = "product.updated"
	ProductDeleted     = "product.deleted"
	ProductBulkUpdated = "product.bulk_updated"
	ProductBulkDeleted = "product.bulk_deleted"
	ProductUploaded    = "product.uploaded"
)

func Types() []string {
	return []string{
		ProductCreated,
		ProductUpdated,
		ProductDeleted,
		ProductBulkUpdated,
		ProductBulkDeleted,
		ProductUploaded,
	}
}

func Valid(eventType string) bool {
	for _, t := range Types() {
		if t == eventType {
			return true
		}
	}
	return false
}
