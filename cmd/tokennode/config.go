package main

import (
	"errors"
	"fmt"

	tokenring "go-tokenring"
)

// runConfig is the validated form of the run command's arguments.
type runConfig struct {
	role tokenring.Role
	ring *tokenring.Ring
}

// parseRunArgs validates <role> <host:port> <member>... without touching the network.
func parseRunArgs(args []string) (runConfig, error) {
	if len(args) < 3 {
		return runConfig{}, errors.New("expected a role, an own address and at least one member")
	}

	role, err := tokenring.ParseRole(args[0])
	if err != nil {
		return runConfig{}, err
	}

	self, err := tokenring.ParseAddress(args[1])
	if err != nil {
		return runConfig{}, fmt.Errorf("own address: %w", err)
	}

	var members = make([]tokenring.NodeAddress, 0, len(args)-2)
	for _, arg := range args[2:] {
		member, err := tokenring.ParseAddress(arg)
		if err != nil {
			return runConfig{}, fmt.Errorf("ring member: %w", err)
		}
		members = append(members, member)
	}

	ring, err := tokenring.NewRing(self, members)
	if err != nil {
		return runConfig{}, err
	}

	return runConfig{role: role, ring: ring}, nil
}
