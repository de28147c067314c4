// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package privacy implements traffic-shaping defenses applied to outbound
// bytes: padding, timing jitter, batching and cover
// traffic. Each sub-feature is independently toggleable through Config.
package privacy

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"
	"sync"
	"time"

	"github.com/veilmesh/meshcore/merr"
)

// Config toggles and tunes each privacy sub-feature.
type Config struct {
	PaddingEnabled bool
	PaddingBuckets []int // ascending size buckets, in bytes

	JitterEnabled bool
	JitterMinMs   int
	JitterMaxMs   int

	BatchingEnabled  bool
	BatchWindow      time.Duration
	BatchMaxMessages int

	CoverTrafficEnabled bool
	CoverBaseInterval   time.Duration
	CoverJitter         time.Duration
}

// coverMarker prefixes dummy cover-traffic frames so a receiving peer can
// recognize and drop them before delivery.
const coverMarker = 0xC0

// Pad rounds data up to the smallest configured bucket that fits it,
// prefixing a 4-byte big-endian length field and filling the remainder
// with random bytes.
func Pad(data []byte, buckets []int) ([]byte, error) {
	target := len(data)
	for _, b := range buckets {
		if b >= len(data)+4 {
			target = b
			break
		}
	}
	if target < len(data)+4 {
		target = len(data) + 4
	}

	out := make([]byte, target)
	binary.BigEndian.PutUint32(out[:4], uint32(len(data)))
	copy(out[4:], data)
	if _, err := rand.Read(out[4+len(data):]); err != nil {
		return nil, merr.Wrap(merr.Validation, "padding fill failed", err)
	}
	return out, nil
}

// Unpad reverses Pad, returning the original payload using the explicit
// length field rather than trimming trailing zero bytes.
func Unpad(padded []byte) ([]byte, error) {
	if len(padded) < 4 {
		return nil, merr.New(merr.Validation, "padded frame too short")
	}
	n := binary.BigEndian.Uint32(padded[:4])
	if int(n) > len(padded)-4 {
		return nil, merr.New(merr.Validation, "padded frame length field out of range")
	}
	return padded[4 : 4+n], nil
}

// Jitter returns a random delay in [min, max] milliseconds, used to
// decorrelate outbound write timing from application-level events.
func Jitter(minMs, maxMs int) (time.Duration, error) {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond, nil
	}
	span := big.NewInt(int64(maxMs - minMs + 1))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, merr.Wrap(merr.Validation, "jitter generation failed", err)
	}
	return time.Duration(minMs+int(n.Int64())) * time.Millisecond, nil
}

// Batcher coalesces outbound messages within a time window or until a max
// batch size is reached, flushing on whichever triggers first.
type Batcher struct {
	mu       sync.Mutex
	window   time.Duration
	maxMsgs  int
	pending  [][]byte
	timer    *time.Timer
	flushFn  func([][]byte)
}

// NewBatcher creates a batcher that calls flush whenever the window
// elapses or maxMsgs messages have accumulated.
func NewBatcher(window time.Duration, maxMsgs int, flush func([][]byte)) *Batcher {
	return &Batcher{window: window, maxMsgs: maxMsgs, flushFn: flush}
}

// Add queues msg for the next flush, triggering an immediate flush if the
// batch has reached its size cap.
func (b *Batcher) Add(msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, msg)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.flushLocked)
	}
	if len(b.pending) >= b.maxMsgs {
		b.flushNow()
	}
}

// flushLocked is invoked by the window timer; it must acquire mu itself
// since it runs on its own goroutine.
func (b *Batcher) flushLocked() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushNow()
}

// flushNow performs the flush; callers must already hold mu.
func (b *Batcher) flushNow() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return
	}
	batch := b.pending
	b.pending = nil
	b.flushFn(batch)
}

// Flush forces an immediate flush of any pending messages.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushNow()
}

// CoverTraffic emits marker-prefixed dummy frames at a noisy interval,
// suppressed whenever real activity was recorded within the last
// interval.
type CoverTraffic struct {
	mu           sync.Mutex
	base         time.Duration
	jitter       time.Duration
	lastActivity time.Time
	send         func(frame []byte)
	stopCh       chan struct{}
	now          func() time.Time
}

// NewCoverTraffic creates a cover traffic generator. base is clamped to a
// 1 second minimum so misconfiguration can't turn this into a flood.
func NewCoverTraffic(base, jitter time.Duration, send func(frame []byte)) *CoverTraffic {
	if base < time.Second {
		base = time.Second
	}
	return &CoverTraffic{base: base, jitter: jitter, send: send, stopCh: make(chan struct{}), now: time.Now}
}

// RecordActivity marks that real traffic was just sent, suppressing the
// next cover-traffic emission if it would fall within one interval.
func (c *CoverTraffic) RecordActivity() {
	c.mu.Lock()
	c.lastActivity = c.now()
	c.mu.Unlock()
}

// Run emits cover frames on a noisy interval until Stop is called. It is
// meant to be run in its own goroutine, following the usual
// background-loop-plus-quit-channel shutdown idiom used elsewhere in this
// module.
func (c *CoverTraffic) Run() {
	for {
		delay, err := Jitter(int(c.base.Milliseconds()), int((c.base + c.jitter).Milliseconds()))
		if err != nil {
			delay = c.base
		}
		select {
		case <-c.stopCh:
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		suppress := c.now().Sub(c.lastActivity) < c.base
		c.mu.Unlock()
		if suppress {
			continue
		}

		frame := make([]byte, 1+16)
		frame[0] = coverMarker
		rand.Read(frame[1:])
		c.send(frame)
	}
}

// Stop terminates the Run loop.
func (c *CoverTraffic) Stop() {
	close(c.stopCh)
}

// IsCoverFrame reports whether frame is a cover-traffic dummy, so the
// receiving side can drop it before delivery.
func IsCoverFrame(frame []byte) bool {
	return len(frame) > 0 && frame[0] == coverMarker
}
