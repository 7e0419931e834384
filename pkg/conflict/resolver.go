package conflict

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/common/models"
)

// Winner names the side a resolution chose.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
	WinnerNone   Winner = "none"
)

// Outcome describes how a conflict was settled. Resolved is false only under
// the MANUAL strategy, where the conflict is surfaced to the user instead.
type Outcome struct {
	Resolved bool
	Winner   Winner
	Data     json.RawMessage
	// NextState is the sync state the entity moves to: SYNCED when the
	// winning copy is already where it needs to be, PENDING_UPLOAD when the
	// local copy must be re-pushed.
	NextState models.SyncState
}

// snapshotTime is the subset of a snapshot the resolver needs for
// LATEST_WINS.
type snapshotTime struct {
	Timestamp        string `json:"timestamp"`
	LastModifiedTime string `json:"last_modified_time"`
}

// Resolve settles a conflict under the given strategy. Automatic strategies
// always terminate in a definite outcome; only MANUAL leaves the conflict
// standing.
func Resolve(conflict models.SyncConflict, strategy models.ConflictResolutionStrategy) (Outcome, error) {
	switch strategy {
	case models.StrategyLocalWins:
		return Outcome{
			Resolved:  true,
			Winner:    WinnerLocal,
			Data:      conflict.LocalData,
			NextState: models.StatePendingUpload,
		}, nil

	case models.StrategyCloudWins:
		return Outcome{
			Resolved:  true,
			Winner:    WinnerRemote,
			Data:      conflict.RemoteData,
			NextState: models.StateSynced,
		}, nil

	case models.StrategyLatestWins:
		localTime := modifiedTime(conflict.LocalData)
		remoteTime := modifiedTime(conflict.RemoteData)
		// Ties prefer remote so every device converges on the copy the
		// cloud already holds.
		if localTime.After(remoteTime) {
			return Outcome{
				Resolved:  true,
				Winner:    WinnerLocal,
				Data:      conflict.LocalData,
				NextState: models.StatePendingUpload,
			}, nil
		}
		return Outcome{
			Resolved:  true,
			Winner:    WinnerRemote,
			Data:      conflict.RemoteData,
			NextState: models.StateSynced,
		}, nil

	case models.StrategyManual:
		return Outcome{
			Resolved:  false,
			Winner:    WinnerNone,
			NextState: models.StateConflict,
		}, nil

	default:
		return Outcome{}, fmt.Errorf("unknown conflict resolution strategy %q", strategy)
	}
}

func modifiedTime(data json.RawMessage) time.Time {
	var snap snapshotTime
	if err := json.Unmarshal(data, &snap); err != nil {
		return time.Time{}
	}
	if snap.LastModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339, snap.LastModifiedTime); err == nil {
			return t
		}
	}
	if snap.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, snap.Timestamp); err == nil {
			return t
		}
	}
	return time.Time{}
}
