// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package transport

import (
	"net"
	"sync"
	"time"
)

// trackedConn wraps a net.Conn with an idle-timeout breaker in the same
// style as tornet's breaker, plus exactly-once active-gauge accounting so
// a dialer's Active count can never be decremented twice by a racing
// Close and idle-timeout.
type trackedConn struct {
	net.Conn

	timeout time.Duration
	breaker *time.Timer

	closeOnce sync.Once
	onClose   func()
}

// newTrackedConn wraps conn with an idle timeout that force-closes it
// after inactivity, and arranges for onClose to run exactly once
// regardless of whether the timeout or an explicit Close fires first.
func newTrackedConn(conn net.Conn, timeout time.Duration, onClose func()) net.Conn {
	t := &trackedConn{Conn: conn, timeout: timeout, onClose: onClose}
	if timeout > 0 {
		t.breaker = time.AfterFunc(timeout, func() { t.Close() })
	}
	return t
}

func (t *trackedConn) Read(buf []byte) (int, error) {
	if t.breaker != nil {
		t.breaker.Reset(t.timeout)
	}
	return t.Conn.Read(buf)
}

func (t *trackedConn) Write(buf []byte) (int, error) {
	if t.breaker != nil {
		t.breaker.Reset(t.timeout)
	}
	return t.Conn.Write(buf)
}

func (t *trackedConn) Close() error {
	err := t.Conn.Close()
	t.closeOnce.Do(func() {
		if t.breaker != nil {
			t.breaker.Stop()
		}
		if t.onClose != nil {
			t.onClose()
		}
	})
	return err
}
