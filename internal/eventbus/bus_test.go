package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: WorkerPaused, RunID: "r1"})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		assert.Equal(t, WorkerPaused, e.Type)
		assert.False(t, e.Time.IsZero())
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // dropped, never blocks

	assert.Equal(t, "a", (<-ch).Type)
	assert.Len(t, ch, 0)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	require.False(t, ok)
	assert.NotPanics(t, func() { b.Publish(Event{Type: "late"}) })
}
