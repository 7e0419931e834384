package conflict

import (
	"encoding/json"
	"time"

	"github.com/beaconledger/welltrack-sync/pkg/common/models"
)

// Decision says what to do with one local/remote pair.
type Decision int

const (
	// AcceptRemote overwrites local state with the remote snapshot.
	AcceptRemote Decision = iota
	// KeepLocal keeps the local copy and schedules a re-push.
	KeepLocal
	// Conflicted requires resolution before either side can proceed.
	Conflicted
	// NoChange means both sides already agree.
	NoChange
)

// Detector compares local and remote copies of one entity.
type Detector struct {
	bidirectional bool
}

func NewDetector(bidirectional bool) *Detector {
	return &Detector{bidirectional: bidirectional}
}

// Detection is the detector's verdict. Conflict is set only when the
// decision is Conflicted.
type Detection struct {
	Decision Decision
	Conflict *models.SyncConflict
}

// Detect applies the divergence rule: equal versions mean no conflict (the
// remote copy wins, or the local one when it is newer and bidirectional sync
// is on); diverged versions with uncommitted local changes mean a conflict
// the configured strategy has to settle.
func (d *Detector) Detect(local models.SyncStatus, localData, remoteData json.RawMessage, remoteVersion int64, remoteModified time.Time) Detection {
	if local.Version == remoteVersion {
		if d.bidirectional && local.LastModifiedTime.After(remoteModified) && localChanged(local) {
			return Detection{Decision: KeepLocal}
		}
		if string(localData) == string(remoteData) {
			return Detection{Decision: NoChange}
		}
		return Detection{Decision: AcceptRemote}
	}

	if remoteVersion > local.Version && !localChanged(local) {
		// Remote moved ahead and nothing changed locally since the last
		// sync: a plain download.
		return Detection{Decision: AcceptRemote}
	}

	if local.Version > remoteVersion && !remoteChangedSince(local, remoteModified) {
		return Detection{Decision: KeepLocal}
	}

	return Detection{
		Decision: Conflicted,
		Conflict: &models.SyncConflict{
			EntityID:      local.EntityID,
			EntityType:    local.EntityType,
			LocalVersion:  local.Version,
			RemoteVersion: remoteVersion,
			LocalData:     localData,
			RemoteData:    remoteData,
			DetectedAt:    time.Now().UTC(),
		},
	}
}

// localChanged reports whether the local copy carries changes not yet
// committed to the remote store.
func localChanged(local models.SyncStatus) bool {
	if local.State == models.StatePendingUpload || local.State == models.StateFailed {
		return true
	}
	return local.LastSyncTime != nil && local.LastModifiedTime.After(*local.LastSyncTime)
}

func remoteChangedSince(local models.SyncStatus, remoteModified time.Time) bool {
	if local.LastSyncTime == nil {
		return !remoteModified.IsZero()
	}
	return remoteModified.After(*local.LastSyncTime)
}
