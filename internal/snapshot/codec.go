package snapshot

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"

	"github.com/stacklok/promptsync/internal/checksum"
	"github.com/stacklok/promptsync/internal/model"
	"github.com/stacklok/promptsync/internal/syncerr"
	"github.com/stacklok/promptsync/internal/versions"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "snapshot.schema.json"

var loadSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to register snapshot schema: %w", err)
	}
	return c.Compile(schemaURL)
})

// Peek is the identifying header of a remote snapshot.
type Peek struct {
	SchemaVersion string
	DeviceID      string
	SyncID        string
	TotalItems    int
}

// PeekHeader reads the snapshot header without decoding the items.
func PeekHeader(data []byte) (*Peek, error) {
	if !gjson.ValidBytes(data) {
		return nil, syncerr.New(syncerr.CodeData, "remote snapshot is not valid JSON")
	}
	res := gjson.GetManyBytes(data, "schemaVersion", "deviceId", "metadata.syncId", "metadata.totalItems")
	if !res[0].Exists() {
		return nil, syncerr.New(syncerr.CodeData, "remote snapshot has no schemaVersion")
	}
	return &Peek{
		SchemaVersion: res[0].String(),
		DeviceID:      res[1].String(),
		SyncID:        res[2].String(),
		TotalItems:    int(res[3].Int()),
	}, nil
}

// CheckCompatible reports whether a snapshot written with schema version v can be
// read by this build: the major version must match.
func CheckCompatible(v string) error {
	ok, err := versions.SameMajor(v, model.SchemaVersion)
	if err != nil {
		return syncerr.New(syncerr.CodeData, "invalid snapshot schema version %q", v)
	}
	if !ok {
		return syncerr.New(syncerr.CodeData,
			"snapshot schema version %s is not compatible with %s", v, model.SchemaVersion)
	}
	return nil
}

// NewerMajor reports whether v is a valid schema version with a major version
// this build cannot read. Such snapshots come from a newer release and must not
// be treated as corrupt.
func NewerMajor(v string) bool {
	return versions.NewerMajor(v, model.SchemaVersion)
}

// Decode parses and validates a remote snapshot. Item checksums are recomputed
// locally so comparisons never depend on how the producer hashed content. Every
// failure is a DATA_ERROR.
func Decode(data []byte) (*model.Snapshot, error) {
	peek, err := PeekHeader(data)
	if err != nil {
		return nil, err
	}
	if err := CheckCompatible(peek.SchemaVersion); err != nil {
		return nil, err
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, syncerr.Wrap(syncerr.CodeData, err, "failed to parse remote snapshot")
	}
	if err := schema.Validate(inst); err != nil {
		return nil, syncerr.Wrap(syncerr.CodeData, err, "remote snapshot failed validation")
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, syncerr.Wrap(syncerr.CodeData, err, "failed to decode remote snapshot")
	}

	seen := make(map[string]struct{}, len(snap.Items))
	for i := range snap.Items {
		item := &snap.Items[i]
		if _, dup := seen[item.ID]; dup {
			return nil, syncerr.New(syncerr.CodeData, "remote snapshot contains duplicate id %s", item.ID)
		}
		seen[item.ID] = struct{}{}

		sum, err := checksum.Item(*item)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.CodeData, err, "failed to hash remote item "+item.ID)
		}
		item.Metadata.Checksum = sum
	}
	snap.Metadata.TotalItems = len(snap.Items)
	snap.Metadata.Checksum = checksum.Snapshot(snap.Items)
	return &snap, nil
}

// Encode renders a snapshot for the remote store.
func Encode(snap *model.Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}
