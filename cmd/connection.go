// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/hivegate/internal/devices"
	"github.com/Thermoquad/hivegate/internal/gateway"
	"github.com/Thermoquad/hivegate/internal/link"
)

// EnvPassword holds the WebSocket Basic auth password
const EnvPassword = "HIVEGATE_PASSWORD"

var (
	passwordOnce sync.Once
	password     string
	passwordErr  error
)

// GetPassword retrieves password from environment or prompts user. The
// answer is reused for every node in the run.
func GetPassword() (string, error) {
	passwordOnce.Do(func() {
		password, passwordErr = readPassword()
	})
	return password, passwordErr
}

func readPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv(EnvPassword); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		pw, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(pw), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// adhocTarget builds a target from --port or --url. ok is false when neither
// flag is set.
func adhocTarget(defaultBaud int) (t link.Target, ok bool) {
	switch {
	case wsURL != "":
		return link.Target{URL: wsURL, Username: wsUsername, NoSSLVerify: wsNoSSLVerify}, true
	case portName != "":
		baud := baudRate
		if baud <= 0 {
			baud = defaultBaud
		}
		return link.Target{Port: portName, Baud: baud}, true
	default:
		return link.Target{}, false
	}
}

// resolveNodes turns command arguments into the nodes to visit.
//
// With --port or --url there is exactly one node; its peer ID is the single
// address argument or, without one, the port or URL itself. Otherwise each
// argument is looked up in the registry, and no arguments means every
// registered node.
func (a *app) resolveNodes(args []string) ([]gateway.Node, error) {
	if t, ok := adhocTarget(a.cfg.Serial.Baud); ok {
		if len(args) > 1 {
			return nil, fmt.Errorf("--port/--url reach one node, got %d addresses", len(args))
		}
		peer := t.Port + t.URL
		if len(args) == 1 {
			peer = devices.NormalizeAddress(args[0])
		}
		node := gateway.Node{PeerID: peer, Tag: a.registry.Tag(peer), Target: t}
		return a.withCredentials([]gateway.Node{node})
	}

	var selected []devices.Device
	if len(args) == 0 {
		selected = a.registry.All()
		if len(selected) == 0 {
			return nil, fmt.Errorf("no nodes: device registry %s is empty and neither --port nor --url is set", a.cfg.Devices)
		}
	}
	for _, addr := range args {
		d, err := a.registry.Lookup(addr)
		if err != nil {
			return nil, err
		}
		selected = append(selected, d)
	}

	nodes := make([]gateway.Node, 0, len(selected))
	for _, d := range selected {
		nodes = append(nodes, gateway.Node{PeerID: d.Address, Tag: d.Name, Target: d.Target(a.cfg.Serial.Baud)})
	}
	return a.withCredentials(nodes)
}

// withCredentials fills in link timeouts and, for authenticated WebSocket
// targets, the password.
func (a *app) withCredentials(nodes []gateway.Node) ([]gateway.Node, error) {
	for i := range nodes {
		t := &nodes[i].Target
		t.WriteTimeout = a.cfg.Session.ByteTimeout
		if t.URL != "" && t.Username != "" {
			pw, err := GetPassword()
			if err != nil {
				return nil, err
			}
			t.Password = pw
		}
	}
	return nodes, nil
}
