package netsock

import (
	"sync"
)

// CloseHandler is notified after a socket's refcount drops to zero and the
// underlying fd has been closed.
type CloseHandler func(port uint16, fd int)

type sockInfo struct {
	port        uint16
	fd          int
	connections int
}

// Registry is a reference-counted listening-socket registry keyed by
// port/protocol. Multiple callers asking for the same port share one
// underlying socket; the socket is closed only when the last caller
// releases it.
type Registry struct {
	mu       sync.Mutex
	tcp      map[uint16]*sockInfo
	udp      map[uint16]*sockInfo
	handlers []CloseHandler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tcp: make(map[uint16]*sockInfo),
		udp: make(map[uint16]*sockInfo),
	}
}

// AddCloseHandler registers a callback invoked whenever a socket this
// registry owns is actually closed (refcount reaching zero).
func (r *Registry) AddCloseHandler(h CloseHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// GetOrCreateTCP returns the fd bound to port, creating and binding it if
// this is the first caller, and incrementing its refcount either way.
func (r *Registry) GetOrCreateTCP(port uint16) (int, error) {
	return r.getOrCreate(r.tcp, port, CreateBoundTCPSocket)
}

// GetOrCreateUDP is GetOrCreateTCP for UDP sockets.
func (r *Registry) GetOrCreateUDP(port uint16) (int, error) {
	return r.getOrCreate(r.udp, port, CreateBoundUDPSocket)
}

func (r *Registry) getOrCreate(table map[uint16]*sockInfo, port uint16, create func(uint16) (int, error)) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := table[port]; ok {
		info.connections++
		return info.fd, nil
	}
	fd, err := create(port)
	if err != nil {
		return -1, err
	}
	table[port] = &sockInfo{port: port, fd: fd, connections: 1}
	return fd, nil
}

// CloseTCP releases one reference on port's TCP socket, closing it and
// notifying subscribers once the last reference is released.
func (r *Registry) CloseTCP(port uint16) {
	r.closeOne(r.tcp, port)
}

// CloseUDP is CloseTCP for UDP sockets.
func (r *Registry) CloseUDP(port uint16) {
	r.closeOne(r.udp, port)
}

func (r *Registry) closeOne(table map[uint16]*sockInfo, port uint16) {
	r.mu.Lock()
	info, ok := table[port]
	if !ok {
		r.mu.Unlock()
		return
	}
	info.connections--
	if info.connections > 0 {
		r.mu.Unlock()
		return
	}
	delete(table, port)
	handlers := append([]CloseHandler(nil), r.handlers...)
	r.mu.Unlock()

	Close(info.fd)
	for _, h := range handlers {
		h(port, info.fd)
	}
}

// Shutdown hard-closes every socket the registry currently owns, ignoring
// refcounts. Intended for process teardown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	var fds []int
	for _, info := range r.tcp {
		fds = append(fds, info.fd)
	}
	for _, info := range r.udp {
		fds = append(fds, info.fd)
	}
	r.tcp = make(map[uint16]*sockInfo)
	r.udp = make(map[uint16]*sockInfo)
	r.mu.Unlock()

	for _, fd := range fds {
		Close(fd)
	}
}
