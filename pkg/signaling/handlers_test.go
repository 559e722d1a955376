package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlers_DispatchInOrder(t *testing.T) {
	var hs Handlers
	var calls []string

	removeA := hs.Add(func(msg Message, local bool) { calls = append(calls, "a:"+msg.Type) })
	hs.Add(func(msg Message, local bool) {
		if local {
			calls = append(calls, "b:local")
		}
	})
	assert.Equal(t, 2, hs.Len())

	hs.Dispatch(Message{Type: "x"}, true)
	assert.Equal(t, []string{"a:x", "b:local"}, calls)

	removeA()
	removeA()
	assert.Equal(t, 1, hs.Len())

	calls = nil
	hs.Dispatch(Message{Type: "y"}, false)
	assert.Empty(t, calls)
}

func TestHandlers_RemoveDuringDispatch(t *testing.T) {
	var hs Handlers
	count := 0
	var remove func()
	remove = hs.Add(func(Message, bool) {
		count++
		remove()
	})

	hs.Dispatch(Message{}, false)
	hs.Dispatch(Message{}, false)
	assert.Equal(t, 1, count)
}
