// SPDX-License-Identifier: MIT
//
// Package udp publishes live microphone levels to a monitoring host.
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"headset/internal/block"
	applog "headset/internal/log"
	"headset/internal/transport"
)

/*
Level packet (BigEndian):

	+-----------------+-----------+-----------+-------------------------+
	| Sequence Number | Timestamp | Count (N) | Levels                  |
	| uint32          | int64     | uint16    | N * float32, dBFS       |
	+-----------------+-----------+-----------+-------------------------+

Levels are in microphone order OEM_L, IEM_L, OEM_R, IEM_R. Silence is -Inf.
*/

// HeaderSize is the fixed part of a level packet in bytes.
const HeaderSize = 4 + 8 + 2

// Publisher periodically reads the instantaneous microphone levels and sends
// them as one packet. Ticks without fresh levels send nothing.
type Publisher struct {
	sender   *Sender
	levels   transport.LevelSource
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker and doneChan during Start/Stop.

	sequenceNum  uint32
	f32Buffer    [block.NumMics]float32
	packetBuffer *bytes.Buffer
}

// NewPublisher creates a publisher. A non-positive interval defaults to
// 100ms.
func NewPublisher(interval time.Duration, sender *Sender, levels transport.LevelSource) (*Publisher, error) {
	if sender == nil {
		return nil, errors.New("udp publisher: sender cannot be nil")
	}
	if levels == nil {
		return nil, errors.New("udp publisher: level source cannot be nil")
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
		applog.Warnf("UDPPublisher: invalid interval provided, defaulting to %s", interval)
	}

	return &Publisher{
		sender:       sender,
		levels:       levels,
		interval:     interval,
		packetBuffer: bytes.NewBuffer(make([]byte, 0, HeaderSize+4*block.NumMics)),
	}, nil
}

// Start launches the publishing goroutine. Calling Start while running is a
// no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("UDPPublisher: Start called but already running")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	ticker, done := p.ticker, p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Debugf("UDPPublisher: publishing every %s", p.interval)
		for {
			select {
			case <-ticker.C:
				p.publish()
			case <-done:
				return
			}
		}
	}()
}

// Stop signals the publishing goroutine and waits for it to exit. It is safe
// to call Stop multiple times.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	close(p.doneChan)
	p.ticker.Stop()
	p.ticker = nil
	p.mu.Unlock()

	p.wg.Wait()
	applog.Debugf("UDPPublisher: stopped after %d packets", p.sequenceNum)
	return nil
}

func (p *Publisher) publish() {
	levels, ok := p.levels.ReadAll()
	if !ok {
		return
	}
	for i, v := range levels {
		p.f32Buffer[i] = float32(v)
	}

	p.sequenceNum++
	p.packetBuffer.Reset()

	err := binary.Write(p.packetBuffer, binary.BigEndian, p.sequenceNum)
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, time.Now().UnixNano())
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, uint16(len(p.f32Buffer)))
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, p.f32Buffer[:])
	}
	if err != nil {
		applog.Errorf("UDPPublisher: error packing levels: %v", err)
		return
	}

	if err := p.sender.Send(p.packetBuffer.Bytes()); err != nil {
		applog.Debugf("UDPPublisher: %v", err)
		return
	}
	applog.Debugf("UDPPublisher: sent packet %d", p.sequenceNum)
}

// Close stops the publisher. The sender is left open for its owner.
func (p *Publisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*Publisher)(nil)
