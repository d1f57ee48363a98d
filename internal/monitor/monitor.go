// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package monitor keeps per-node session statistics for the status API and
// the terminal dashboard.
package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Thermoquad/hivegate/internal/session"
	"github.com/Thermoquad/hivegate/pkg/wire"
)

// NodeStatus is the latest known state of one node
type NodeStatus struct {
	PeerID         string    `json:"peer_id"`
	Tag            string    `json:"tag"`
	LastSession    string    `json:"last_session"`
	LastOutcome    string    `json:"last_outcome"`
	LastError      string    `json:"last_error,omitempty"`
	LastErrorCode  *int      `json:"last_error_code,omitempty"`
	LastCommands   []string  `json:"last_commands"`
	LastSeen       time.Time `json:"last_seen"`
	NextCollection *time.Time `json:"next_collection,omitempty"`

	Sessions uint64 `json:"sessions"`
	Errors   uint64 `json:"errors"`
	Readings uint64 `json:"readings"`
}

// Statistics tracks session outcomes across all nodes
type Statistics struct {
	StartTime time.Time

	TotalSessions uint64
	Completed     uint64
	Exhausted     uint64
	Errored       uint64
	Cancelled     uint64
	Readings      uint64

	// ErrorCodes counts error events by code.
	ErrorCodes map[session.ErrorCode]uint64

	SessionRate float64 // sessions/hour
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	stats Statistics
	nodes map[string]*NodeStatus
	now   func() time.Time
}

func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	t.Reset()
	return t
}

// Record folds a finished session into the statistics.
func (t *Tracker) Record(res session.Result, tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.TotalSessions++
	t.stats.Readings += uint64(res.Readings)
	switch res.Outcome {
	case session.OutcomeCompleted:
		t.stats.Completed++
	case session.OutcomeExhausted:
		t.stats.Exhausted++
	case session.OutcomeError:
		t.stats.Errored++
		t.stats.ErrorCodes[res.ErrorCode]++
	case session.OutcomeCancelled:
		t.stats.Cancelled++
	}

	n, ok := t.nodes[res.PeerID]
	if !ok {
		n = &NodeStatus{PeerID: res.PeerID}
		t.nodes[res.PeerID] = n
	}
	n.Tag = tag
	n.LastSession = res.ID.String()
	n.LastOutcome = string(res.Outcome)
	n.LastSeen = res.Ended
	n.LastCommands = commandNames(res.Commands)
	n.Sessions++
	n.Readings += uint64(res.Readings)
	n.LastError = ""
	n.LastErrorCode = nil
	if res.Outcome == session.OutcomeError {
		n.Errors++
		code := int(res.ErrorCode)
		n.LastErrorCode = &code
		if res.Err != nil {
			n.LastError = res.Err.Error()
		}
	}
	if !res.NextCollection.IsZero() {
		next := res.NextCollection
		n.NextCollection = &next
	}
}

// RecordFailure counts a node whose link could not be opened. No session ran,
// so only the error text is kept.
func (t *Tracker) RecordFailure(peerID, tag string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[peerID]
	if !ok {
		n = &NodeStatus{PeerID: peerID}
		t.nodes[peerID] = n
	}
	n.Tag = tag
	n.Errors++
	n.LastOutcome = "unreachable"
	n.LastError = err.Error()
	n.LastErrorCode = nil
}

func commandNames(cmds []byte) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = wire.FormatCommand(c)
	}
	return out
}

// Nodes returns a copy of every node's status, sorted by peer ID
func (t *Tracker) Nodes() []NodeStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]NodeStatus, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, copyStatus(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

func (t *Tracker) Node(peerID string) (NodeStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.nodes[peerID]
	if !ok {
		return NodeStatus{}, false
	}
	return copyStatus(n), true
}

func copyStatus(n *NodeStatus) NodeStatus {
	c := *n
	c.LastCommands = append([]string(nil), n.LastCommands...)
	if n.LastErrorCode != nil {
		code := *n.LastErrorCode
		c.LastErrorCode = &code
	}
	if n.NextCollection != nil {
		next := *n.NextCollection
		c.NextCollection = &next
	}
	return c
}

// Snapshot returns a copy of the totals with rates filled in
func (t *Tracker) Snapshot() Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.stats
	s.ErrorCodes = make(map[session.ErrorCode]uint64, len(t.stats.ErrorCodes))
	for k, v := range t.stats.ErrorCodes {
		s.ErrorCodes[k] = v
	}
	if hours := t.now().Sub(s.StartTime).Hours(); hours > 0 {
		s.SessionRate = float64(s.TotalSessions) / hours
	}
	return s
}

// String returns a formatted statistics summary
func (t *Tracker) String() string {
	s := t.Snapshot()
	elapsed := t.now().Sub(s.StartTime)

	var completedPercent, errorPercent float64
	if s.TotalSessions > 0 {
		completedPercent = float64(s.Completed) * 100.0 / float64(s.TotalSessions)
		errorPercent = float64(s.Errored) * 100.0 / float64(s.TotalSessions)
	}

	result := fmt.Sprintf("=== Sessions (%s) ===\n", elapsed.Truncate(time.Second))
	result += fmt.Sprintf("Total Sessions:  %8d\n", s.TotalSessions)
	result += fmt.Sprintf("Completed:       %8d (%.1f%%)\n", s.Completed, completedPercent)
	if s.Exhausted > 0 {
		result += fmt.Sprintf("Round Budget:    %8d\n", s.Exhausted)
	}
	if s.Errored > 0 {
		result += fmt.Sprintf("Errors:          %8d (%.1f%%)\n", s.Errored, errorPercent)
		codes := make([]session.ErrorCode, 0, len(s.ErrorCodes))
		for c := range s.ErrorCodes {
			codes = append(codes, c)
		}
		sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
		for _, c := range codes {
			result += fmt.Sprintf("  %-18s %5d\n", c.String()+":", s.ErrorCodes[c])
		}
	}
	if s.Cancelled > 0 {
		result += fmt.Sprintf("Cancelled:       %8d\n", s.Cancelled)
	}
	result += fmt.Sprintf("Readings:        %8d\n", s.Readings)
	result += fmt.Sprintf("Session Rate:    %8.1f /hour\n", s.SessionRate)
	result += "==========================\n"
	return result
}

// Reset clears totals and node state
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats = Statistics{
		StartTime:  t.now(),
		ErrorCodes: make(map[session.ErrorCode]uint64),
	}
	t.nodes = make(map[string]*NodeStatus)
}
