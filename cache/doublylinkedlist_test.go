package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func listValues(dll *doublyLinkedList[int]) []int {
	var r []int
	for n := dll.head; n != nil; n = n.next {
		r = append(r, n.data)
	}
	return r
}

func TestDoublyLinkedList(t *testing.T) {
	dll := newDoublyLinkedList[int]()
	n1 := dll.addToHead(1)
	n2 := dll.addToHead(2)
	n3 := dll.addToHead(3)
	assert.Equal(t, []int{3, 2, 1}, listValues(dll))

	dll.moveToHead(n1)
	assert.Equal(t, []int{1, 3, 2}, listValues(dll))
	assert.Same(t, n2, dll.tail)

	assert.True(t, dll.delete(n2))
	assert.Same(t, n3, dll.tail)
	assert.True(t, dll.delete(n1))
	assert.Same(t, n3, dll.head)
	assert.Same(t, n3, dll.tail)
	assert.False(t, dll.delete(nil))
	assert.Equal(t, 1, dll.count())

	dll.moveToHead(n3)
	assert.Equal(t, []int{3}, listValues(dll))
}
