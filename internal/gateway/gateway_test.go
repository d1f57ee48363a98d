// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/hivegate/internal/link"
	"github.com/Thermoquad/hivegate/internal/schedule"
	"github.com/Thermoquad/hivegate/internal/session"
	"github.com/Thermoquad/hivegate/internal/spool"
	"github.com/Thermoquad/hivegate/internal/store"
	"github.com/Thermoquad/hivegate/internal/store/memory"
	"github.com/Thermoquad/hivegate/pkg/wire"
)

// ============================================================
// Fakes
// ============================================================

// pipeOpener hands out one end of a net.Pipe per open and runs the scripted
// node on the other end. Targets without a script fail to open.
type pipeOpener struct {
	mu      sync.Mutex
	scripts map[string]func(node net.Conn)
	opened  []string
	wg      sync.WaitGroup
}

func (p *pipeOpener) Open(_ context.Context, t link.Target) (link.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = append(p.opened, t.TCP)

	script, ok := p.scripts[t.TCP]
	if !ok {
		return nil, errors.New("connection refused")
	}
	gw, node := net.Pipe()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer node.Close()
		_ = node.SetDeadline(time.Now().Add(5 * time.Second))
		script(node)
	}()
	return link.NewConnStream(gw, time.Second), nil
}

// replyAfterOkay waits for the gateway's OKAY and then sends cmds.
func replyAfterOkay(cmds ...byte) func(net.Conn) {
	return func(node net.Conn) {
		buf := make([]byte, 1)
		if _, err := io.ReadFull(node, buf); err != nil || buf[0] != wire.CmdOkay {
			return
		}
		_, _ = node.Write(cmds)
		_, _ = io.Copy(io.Discard, node)
	}
}

type fakeFlusher struct {
	pending int
	flushes int
	err     error
}

func (f *fakeFlusher) Flush(context.Context) (spool.FlushResult, error) {
	f.flushes++
	if f.err != nil {
		return spool.FlushResult{Remaining: f.pending}, f.err
	}
	res := spool.FlushResult{Replayed: f.pending}
	f.pending = 0
	return res, nil
}

func (f *fakeFlusher) Pending() int { return f.pending }

func newEngine(mem *memory.Store) *session.Engine {
	cfg := session.DefaultConfig()
	cfg.ByteTimeout = 2 * time.Second
	return session.New(mem, schedule.New(mem, schedule.DefaultConfig()), cfg)
}

// ============================================================
// Collection Tests
// ============================================================

func TestCollectOnceVisitsNodesInOrder(t *testing.T) {
	mem := memory.New()
	opener := &pipeOpener{scripts: map[string]func(net.Conn){
		"a:1": replyAfterOkay(wire.CmdFini),
		"c:1": replyAfterOkay(9),
	}}
	g := New(newEngine(mem), opener)

	nodes := []Node{
		{PeerID: "AA", Tag: "hive-a", Target: link.Target{TCP: "a:1"}},
		{PeerID: "BB", Tag: "hive-b", Target: link.Target{TCP: "b:1"}},
		{PeerID: "CC", Tag: "hive-c", Target: link.Target{TCP: "c:1"}},
	}
	results, err := g.CollectOnce(context.Background(), nodes)
	opener.wg.Wait()

	var openErr *OpenError
	if !errors.As(err, &openErr) || openErr.PeerID != "BB" {
		t.Fatalf("expected open error for BB, got %v", err)
	}
	if len(results) != 2 || results[0].PeerID != "AA" || results[1].PeerID != "CC" {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Outcome != session.OutcomeCompleted || results[1].ErrorCode != session.CodeUnrecognizedCommand {
		t.Errorf("outcomes = %s, %s/%d", results[0].Outcome, results[1].Outcome, results[1].ErrorCode)
	}
	if Failed(results) != 1 {
		t.Error("Failed should report the CC error")
	}

	want := []string{"a:1", "b:1", "c:1"}
	for i, addr := range want {
		if opener.opened[i] != addr {
			t.Errorf("open order = %v, want %v", opener.opened, want)
			break
		}
	}

	nodesSeen := g.Tracker().Nodes()
	if len(nodesSeen) != 3 || nodesSeen[1].LastOutcome != "unreachable" || nodesSeen[0].Tag != "hive-a" {
		t.Errorf("tracker = %+v", nodesSeen)
	}
	if errs := mem.EventsOf(store.EventError); len(errs) != 1 || errs[0].PeerID != "CC" {
		t.Errorf("error events = %+v", errs)
	}
}

func TestCollectOnceStopsWhenCancelled(t *testing.T) {
	opener := &pipeOpener{scripts: map[string]func(net.Conn){}}
	g := New(newEngine(memory.New()), opener)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := g.CollectOnce(ctx, []Node{{PeerID: "AA", Target: link.Target{TCP: "a:1"}}})

	if !errors.Is(err, context.Canceled) || len(results) != 0 || len(opener.opened) != 0 {
		t.Errorf("results=%v err=%v opened=%v", results, err, opener.opened)
	}
}

// ============================================================
// Spool Tests
// ============================================================

func TestFlushSpool(t *testing.T) {
	f := &fakeFlusher{pending: 3}
	g := New(newEngine(memory.New()), &pipeOpener{}, WithSpool(f))

	g.FlushSpool(context.Background())
	if f.flushes != 1 || f.pending != 0 {
		t.Fatalf("flusher = %+v", f)
	}

	// Nothing pending, nothing to do.
	g.FlushSpool(context.Background())
	if f.flushes != 1 {
		t.Errorf("flush with empty spool: %+v", f)
	}

	f.pending, f.err = 2, store.Unavailable(errors.New("connection refused"))
	g.FlushSpool(context.Background())
	if f.flushes != 2 || f.pending != 2 {
		t.Errorf("flusher = %+v", f)
	}
}

func TestRunFlushesThenCollects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeFlusher{pending: 1}
	opener := &pipeOpener{scripts: map[string]func(net.Conn){
		"a:1": func(node net.Conn) {
			replyAfterOkay(wire.CmdFini)(node)
			cancel()
		},
	}}
	g := New(newEngine(memory.New()), opener, WithSpool(f))

	done := make(chan error, 1)
	go func() {
		done <- g.Run(ctx, time.Hour, []Node{{PeerID: "AA", Target: link.Target{TCP: "a:1"}}})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	opener.wg.Wait()

	if f.flushes != 1 {
		t.Errorf("expected one flush, got %d", f.flushes)
	}
	if n, ok := g.Tracker().Node("AA"); !ok || n.Sessions != 1 {
		t.Errorf("tracker node = %+v", n)
	}
}
