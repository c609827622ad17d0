package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubHistoryKeepsNewest(t *testing.T) {
	h := NewHub(2)
	h.Publish(StepInFlight, "", "a", nil)
	h.Publish(StepReady, "", "a", map[string]any{"n": 1})
	h.Publish(StepInvalidated, "s1", "a", nil)

	all := h.History(0, "")
	require.Len(t, all, 2)
	assert.Equal(t, StepReady, all[0].Type)
	assert.Equal(t, StepInvalidated, all[1].Type)
	assert.Equal(t, "s1", all[1].Session)

	var data map[string]any
	require.NoError(t, json.Unmarshal(all[0].Data, &data))
	assert.Equal(t, float64(1), data["n"])

	since := h.History(all[0].ID, "")
	require.Len(t, since, 1)
	assert.Equal(t, int64(3), since[0].ID)
}

func TestHubHistoryFiltersSession(t *testing.T) {
	h := NewHub(10)
	h.Publish(StepReady, "alice", "a", nil)
	h.Publish(StepReady, "bob", "b", nil)
	h.Publish(StepReady, "alice", "c", nil)

	got := h.History(0, "alice")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].StepID)
	assert.Equal(t, "c", got[1].StepID)
	assert.Len(t, h.History(0, ""), 3)
}

func TestHubSubscribeReceivesAndCancels(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe("")

	h.Publish(StepFailed, "", "b", map[string]string{"error": "boom"})

	select {
	case ev := <-ch:
		assert.Equal(t, StepFailed, ev.Type)
		assert.Equal(t, "b", ev.StepID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
	cancel()
}

func TestHubSubscribeSession(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe("alice")
	defer cancel()

	h.Publish(StepReady, "bob", "b", nil)
	h.Publish(StepReady, "alice", "a", nil)

	select {
	case ev := <-ch:
		assert.Equal(t, "a", ev.StepID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(4)
	_, cancel := h.Subscribe("")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			h.Publish(StepReady, "", "x", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, h.History(0, ""), 4)
}
