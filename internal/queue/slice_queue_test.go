package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type cmdItem struct {
	Channel string
}

func TestSliceQueue(t *testing.T) {
	assert := assert.New(t)

	t.Run("Empty Queue", func(t *testing.T) {
		q := NewSliceQueue[*cmdItem](1)

		assert.True(q.IsEmpty())
		assert.Equal(0, q.Length())
		_, ok := q.Dequeue()
		assert.False(ok)
		_, ok = q.Peek()
		assert.False(ok)
	})

	t.Run("Enqueue and Dequeue", func(t *testing.T) {
		q := NewSliceQueue[*cmdItem](1)

		item1 := &cmdItem{"rtd1"}
		item2 := &cmdItem{"rtd2"}
		q.Enqueue(item1)
		q.Enqueue(item2)
		assert.Equal(2, q.Length())

		got, ok := q.Dequeue()
		assert.True(ok)
		assert.Same(item1, got)

		got, ok = q.Peek()
		assert.True(ok)
		assert.Same(item2, got)
		assert.Equal(1, q.Length())

		q.Reset()
		assert.True(q.IsEmpty())
	})

	t.Run("Remove", func(t *testing.T) {
		q := NewSliceQueue[int](4)
		for i := range 4 {
			q.Enqueue(i)
		}

		assert.True(q.Remove(func(v int) bool { return v == 2 }))
		assert.False(q.Remove(func(v int) bool { return v == 9 }))

		var order []int
		for !q.IsEmpty() {
			v, _ := q.Dequeue()
			order = append(order, v)
		}
		assert.Equal([]int{0, 1, 3}, order)
	})

	t.Run("Remove releases the tail", func(t *testing.T) {
		q := NewSliceQueue[*cmdItem](3)
		first, last := &cmdItem{"rtd1"}, &cmdItem{"rh1"}
		q.Enqueue(first)
		q.Enqueue(&cmdItem{"rtd2"})
		q.Enqueue(last)

		assert.True(q.Remove(func(it *cmdItem) bool { return it == first }))
		assert.Equal(2, q.Length())

		backing := q.items[:cap(q.items)]
		assert.Nil(backing[2], "vacated slot must not keep a reference")
		assert.Same(last, backing[1])
	})
}
