package metrics

import "testing"

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	// Collectors must be usable after repeated Init.
	ObserveDiscovery("inserted")
	ObserveDownload("success", 1024)
	ObserveDownload("cached", 0)
	ObserveImport("completed", 42)
	ObserveRecrawl("repaired")
	SetQueueDepth("pending", 7)
}
