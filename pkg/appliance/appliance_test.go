package appliance

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppliance(t *testing.T) {
	t.Run("InitialFlags", func(t *testing.T) {
		a := New("D828C9000001")

		assert.Equal(t, "D828C9000001", a.ID())
		assert.False(t, a.Available())
		assert.False(t, a.Initialized())
		assert.Empty(t, a.Type())
	})

	t.Run("SetAvailableReportsFlips", func(t *testing.T) {
		a := New("a1")

		assert.True(t, a.SetAvailable(true), "false->true is a flip")
		assert.False(t, a.SetAvailable(true), "true->true is not a flip")
		assert.True(t, a.SetAvailable(false), "true->false is a flip")
		assert.False(t, a.SetAvailable(false), "false->false is not a flip")
	})

	t.Run("MarkInitializedOnce", func(t *testing.T) {
		a := New("a1")

		assert.True(t, a.MarkInitialized())
		assert.False(t, a.MarkInitialized())
		assert.True(t, a.Initialized())
	})

	t.Run("MarkInitializedConcurrent", func(t *testing.T) {
		a := New("a1")

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if a.MarkInitialized() {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
	})

	t.Run("UpdateReturnsChangedOnly", func(t *testing.T) {
		a := New("a1")

		changed := a.Update(map[string]string{AttrApplianceType: "0A", "0x5100": "01"})
		assert.Len(t, changed, 2)
		assert.Equal(t, "0A", a.Type())

		changed = a.Update(map[string]string{AttrApplianceType: "0A", "0x5100": "02"})
		assert.Equal(t, map[string]string{"0x5100": "02"}, changed)
		assert.Equal(t, "a1 (type 0A)", a.String())
	})

	t.Run("ValuesIsCopy", func(t *testing.T) {
		a := New("a1")
		a.Update(map[string]string{"k": "v"})

		vals := a.Values()
		vals["k"] = "mutated"

		assert.Equal(t, "v", a.Value("k"))
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	a, created := r.GetOrCreate("b")
	assert.True(t, created)
	again, created := r.GetOrCreate("b")
	assert.False(t, created)
	assert.Same(t, a, again)

	r.GetOrCreate("a")

	assert.Nil(t, r.Get("missing"))
	assert.Equal(t, 2, r.Len())

	list := r.List()
	if assert.Len(t, list, 2) {
		assert.Equal(t, "a", list[0].ID())
		assert.Equal(t, "b", list[1].ID())
	}
}
