package node

import (
	"bufio"
	"errors"
	"net"
)

// acceptLoop admits inbound peer connections until the listener closes.
// Every accepted connection gets its own reader goroutine.
func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || n.stopping() {
				return
			}
			n.logger.Warn("accept failed", "error", err)
			continue
		}

		n.mu.Lock()
		if n.stopping() {
			n.mu.Unlock()
			conn.Close()
			return
		}
		n.inbound[conn] = struct{}{}
		n.wg.Add(1)
		n.mu.Unlock()

		go n.readLoop(conn)
	}
}

// readLoop decodes newline-delimited messages from one connection into the
// shared queue. A malformed payload or a read error ends this connection only.
func (n *Node) readLoop(conn net.Conn) {
	defer n.wg.Done()
	defer func() {
		n.mu.Lock()
		delete(n.inbound, conn)
		n.mu.Unlock()
		conn.Close()
	}()

	remote := conn.RemoteAddr().String()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		msg, err := DecodeMessage(line)
		if err != nil {
			n.metrics.InboundClosed("malformed")
			n.logger.Warn("dropping connection", "remote", remote, "error", err)
			return
		}
		if !n.queue.Push(msg) {
			return
		}
	}

	switch err := scanner.Err(); {
	case err == nil:
		n.metrics.InboundClosed("eof")
		n.logger.Debug("peer disconnected", "remote", remote)
	case n.stopping():
		n.metrics.InboundClosed("shutdown")
	default:
		n.metrics.InboundClosed("error")
		n.logger.Warn("read failed", "remote", remote, "error", err)
	}
}
