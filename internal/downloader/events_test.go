package downloader

import (
	"testing"

	"github.com/coursecache/coursecache/internal/storage"
	"github.com/stretchr/testify/assert"
)

func TestEventsBroadcastToAllSubscribers(t *testing.T) {
	events := NewEvents()

	var first, second []ProgressEvent

	events.SubscribeProgress(func(ev ProgressEvent) { first = append(first, ev) })
	events.SubscribeProgress(func(ev ProgressEvent) { second = append(second, ev) })

	events.publishProgress(ProgressEvent{ID: "L1_video", Percent: 42})

	assert.Equal(t, []ProgressEvent{{ID: "L1_video", Percent: 42}}, first)
	assert.Equal(t, first, second)
}

func TestEventsUnsubscribeStopsDelivery(t *testing.T) {
	events := NewEvents()

	var got []StatusEvent

	unsubscribe := events.SubscribeStatus(func(ev StatusEvent) { got = append(got, ev) })

	events.publishStatus(StatusEvent{ID: "L1_video", Status: storage.StatusDownloading})
	unsubscribe()
	events.publishStatus(StatusEvent{ID: "L1_video", Status: storage.StatusCompleted})

	assert.Len(t, got, 1)
	assert.Equal(t, storage.StatusDownloading, got[0].Status)
}

func TestEventsPublishWithNoSubscribers(t *testing.T) {
	events := NewEvents()

	events.publishProgress(ProgressEvent{ID: "L1_video", Percent: 10})
	events.publishStatus(StatusEvent{ID: "L1_video", Removed: true})
}
