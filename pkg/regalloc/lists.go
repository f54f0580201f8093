package regalloc

// Worklists are intrusive doubly linked lists threaded through the node and
// move arenas. Every node is on exactly one node list and every move on
// exactly one move list, so membership is the element's tag and removal is
// O(1). Push and pop work at the head, which keeps the processing order
// fixed by insertion order.

type link struct {
	prev, next int
}

type list struct {
	head int
	n    int
}

func newList() list { return list{head: -1} }

func (l *list) empty() bool { return l.n == 0 }

func (l *list) push(i int, at func(int) *link) {
	e := at(i)
	e.prev = -1
	e.next = l.head
	if l.head >= 0 {
		at(l.head).prev = i
	}
	l.head = i
	l.n++
}

func (l *list) remove(i int, at func(int) *link) {
	e := at(i)
	if e.prev >= 0 {
		at(e.prev).next = e.next
	} else {
		l.head = e.next
	}
	if e.next >= 0 {
		at(e.next).prev = e.prev
	}
	e.prev, e.next = -1, -1
	l.n--
}

func (l *list) pop(at func(int) *link) int {
	i := l.head
	l.remove(i, at)
	return i
}

// each calls f for every element from the head. f must not remove elements
// other than the one it is given.
func (l *list) each(at func(int) *link, f func(int) bool) {
	for i := l.head; i >= 0; {
		next := at(i).next
		if !f(i) {
			return
		}
		i = next
	}
}
