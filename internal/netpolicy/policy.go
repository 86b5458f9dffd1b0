// Package netpolicy derives a per-cycle sync configuration from current
// network connectivity: which tables to sync, how large a push batch may
// be, and whether media payloads travel at all.
package netpolicy

import (
	"github.com/greenhouse-labs/sprig/internal/types"
)

// ConnectionType classifies the active network link.
type ConnectionType string

const (
	ConnectionWifi     ConnectionType = "wifi"
	ConnectionCellular ConnectionType = "cellular"
	ConnectionOther    ConnectionType = "other"
	ConnectionNone     ConnectionType = "none"
)

// Status is a snapshot of network connectivity.
type Status struct {
	Online  bool
	Metered bool
	Type    ConnectionType
}

// StatusProvider reports current connectivity. Implemented by the host
// platform's reachability plumbing; tests inject a fixed status.
type StatusProvider interface {
	NetworkStatus() Status
}

// StaticProvider is a StatusProvider returning a fixed status.
type StaticProvider struct {
	Status Status
}

// NetworkStatus returns the fixed status.
func (p StaticProvider) NetworkStatus() Status { return p.Status }

// SyncConfig is the derived, non-persisted configuration for one cycle.
// Zero tables means "skip this cycle".
type SyncConfig struct {
	Tables       []types.Table
	BatchSize    int
	IncludeMedia bool
	NetworkType  ConnectionType
}

// Skip reports whether the configuration calls for skipping the cycle.
func (c SyncConfig) Skip() bool {
	return len(c.Tables) == 0
}

// Batch sizes by connection posture.
const (
	batchWifi     = 200
	batchCellular = 75
	batchOther    = 100
	batchMetered  = 50
)

// meteredTables is the minimal subset synced on metered connections.
// Profiles and plants anchor referential integrity; journals and tasks are
// what the user actively touches in the field.
var meteredTables = []types.Table{
	types.TableProfiles,
	types.TablePlants,
	types.TableGrowJournals,
	types.TablePlantTasks,
}

// ForStatus derives the sync configuration for the given connectivity.
// A forced sync always gets the full default configuration regardless of
// network posture.
func ForStatus(status Status, force bool) SyncConfig {
	if force {
		return SyncConfig{
			Tables:       types.AllTables(),
			BatchSize:    batchWifi,
			IncludeMedia: true,
			NetworkType:  status.Type,
		}
	}

	if !status.Online {
		return SyncConfig{NetworkType: ConnectionNone}
	}

	if status.Metered {
		return SyncConfig{
			Tables:       meteredTables,
			BatchSize:    batchMetered,
			IncludeMedia: false,
			NetworkType:  status.Type,
		}
	}

	batch := batchOther
	switch status.Type {
	case ConnectionWifi:
		batch = batchWifi
	case ConnectionCellular:
		batch = batchCellular
	}

	return SyncConfig{
		Tables:       types.AllTables(),
		BatchSize:    batch,
		IncludeMedia: true,
		NetworkType:  status.Type,
	}
}
