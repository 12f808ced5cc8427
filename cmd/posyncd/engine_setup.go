package main

import (
	"github.com/cuemby/posyncd/pkg/engine"
	"github.com/cuemby/posyncd/pkg/remote"
)

var (
	forceServer bool
	probeHost   string
)

// sharedRemote is a process-wide in-memory stand-in for the real
// remote document store: the synchronization core treats the remote
// as an external black box and ships no concrete transport of its own.
// Every invocation of this CLI within one process therefore shares
// state, which is sufficient for local demo/exercise purposes; a host
// application wires its own remote.Store implementation instead.
var sharedRemote = remote.NewMemoryStore()

// newEngine builds and starts an Engine over the shared in-memory
// remote, scoped to organizationID and rooted at dataDir.
func newEngine() (*engine.Engine, error) {
	if err := requireOrg(); err != nil {
		return nil, err
	}
	e, err := engine.New(engine.Config{
		DataDir:        dataDir,
		OrganizationID: organizationID,
		Remote:         sharedRemote,
		ProbeHost:      probeHost,
		ForceServer:    forceServer,
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}
