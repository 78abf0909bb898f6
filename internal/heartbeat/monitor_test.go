// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type scriptedProber struct {
	mu     sync.Mutex
	script []error // consumed in order; the last entry repeats
	calls  atomic.Int32
	block  bool
}

func (p *scriptedProber) Probe(ctx context.Context) error {
	p.calls.Add(1)
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.script) == 0 {
		return nil
	}
	err := p.script[0]
	if len(p.script) > 1 {
		p.script = p.script[1:]
	}
	return err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var errPing = errors.New("ping timeout")

func TestMonitorExhaustsAfterConsecutiveFailures(t *testing.T) {
	prober := &scriptedProber{script: []error{errPing}}
	var fired atomic.Int32

	m := New("S1", prober, Config{Interval: 5 * time.Millisecond, MaxMissed: 3}, func() {
		fired.Add(1)
	}, testLogger())
	m.Start(context.Background())

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after exhaustion")
	}

	if fired.Load() != 1 {
		t.Fatalf("expected exactly one exhaustion callback, got %d", fired.Load())
	}
	if prober.calls.Load() != 3 {
		t.Fatalf("expected 3 probes, got %d", prober.calls.Load())
	}

	time.Sleep(20 * time.Millisecond)
	if prober.calls.Load() != 3 {
		t.Fatalf("expected no probes after exhaustion, got %d", prober.calls.Load())
	}
}

func TestMonitorSuccessResetsCounter(t *testing.T) {
	prober := &scriptedProber{script: []error{errPing, errPing, nil, errPing, errPing, nil}}
	var fired atomic.Int32

	m := New("S1", prober, Config{Interval: 5 * time.Millisecond, MaxMissed: 3}, func() {
		fired.Add(1)
	}, testLogger())
	m.Start(context.Background())

	deadline := time.Now().Add(time.Second)
	for prober.calls.Load() < 8 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	m.Stop()
	<-m.Done()

	if fired.Load() != 0 {
		t.Fatalf("expected no exhaustion, got %d", fired.Load())
	}
	if m.Missed() != 0 {
		t.Fatalf("expected missed counter reset, got %d", m.Missed())
	}
}

func TestMonitorProbeTimeoutCountsAsMiss(t *testing.T) {
	prober := &scriptedProber{block: true}
	exhausted := make(chan struct{})

	m := New("S1", prober, Config{Interval: 5 * time.Millisecond, MaxMissed: 2}, func() {
		close(exhausted)
	}, testLogger())
	m.Start(context.Background())

	select {
	case <-exhausted:
	case <-time.After(time.Second):
		t.Fatal("blocked probes were not treated as failures")
	}
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	prober := &scriptedProber{}
	m := New("S1", prober, Config{Interval: 5 * time.Millisecond}, nil, testLogger())
	m.Start(context.Background())

	m.Stop()
	m.Stop()

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}

	calls := prober.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if prober.calls.Load() != calls {
		t.Fatalf("probes continued after stop")
	}
}

func TestMonitorStopFromCallback(t *testing.T) {
	prober := &scriptedProber{script: []error{errPing}}
	var m *Monitor
	m = New("S1", prober, Config{Interval: 5 * time.Millisecond, MaxMissed: 1}, func() {
		m.Stop()
	}, testLogger())
	m.Start(context.Background())

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor deadlocked when stopped from its callback")
	}
}

func TestMonitorDefaults(t *testing.T) {
	m := New("S1", &scriptedProber{}, Config{}, nil, testLogger())
	if m.interval != DefaultInterval {
		t.Fatalf("expected default interval, got %s", m.interval)
	}
	if m.maxMissed != DefaultMaxMissed {
		t.Fatalf("expected default threshold, got %d", m.maxMissed)
	}
}
