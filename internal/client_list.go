package internal

import (
	"container/list"
	"net"
	"sync"
)

// A concurrency-safe wrapper around container/list for maintaining a collection
// of connected clients.
type clientList struct {
	clients *list.List
	sync.RWMutex
}

func newClientList() *clientList {
	return &clientList{clients: list.New()}
}

func (cl *clientList) add(c net.Conn) {
	cl.Lock()
	cl.clients.PushBack(c)
	cl.Unlock()
}

func (cl *clientList) remove(c net.Conn) {
	cl.Lock()
	defer cl.Unlock()

	for e := cl.clients.Front(); e != nil; e = e.Next() {
		if e.Value.(net.Conn) == c {
			cl.clients.Remove(e)
			return
		}
	}
}

func (cl *clientList) len() int {
	cl.RLock()
	defer cl.RUnlock()
	return cl.clients.Len()
}
