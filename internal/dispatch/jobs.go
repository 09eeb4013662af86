package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/sesh-im/sesh-go/internal/store"
)

// Job kinds form a closed set; executeRecord matches them exhaustively
// and treats anything else as a permanent decode failure.
const (
	KindSend               = "send"
	KindConfigSync         = "config-sync"
	KindAttachmentDownload = "attachment-download"
	KindAttachmentUpload   = "attachment-upload"
)

// jobSchemaVersion tags persisted job bodies. Decoders accept older
// versions and reject newer ones: a record written by a future build
// must not be silently re-interpreted.
const jobSchemaVersion = 1

// Failure budgets per job kind.
const (
	maxSendFailures       = 10
	maxAttachmentFailures = 20
)

// sendJobBody is the persisted payload of a send job.
type sendJobBody struct {
	SchemaVersion int    `json:"schemaVersion"`
	MessageID     string `json:"messageId"`
	Destination   string `json:"destination"`
}

// configSyncJobBody is the persisted payload of a configuration sync
// job. It carries no snapshot: the configuration is rebuilt from
// current state when the job runs, so a delayed sync never pushes
// stale settings.
type configSyncJobBody struct {
	SchemaVersion int `json:"schemaVersion"`
}

// attachmentJobBody is the persisted payload of an attachment transfer
// job (download or upload).
type attachmentJobBody struct {
	SchemaVersion int    `json:"schemaVersion"`
	AttachmentID  string `json:"attachmentId"`
	MessageID     string `json:"messageId"`
}

func encodeJobBody(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode job body: %w", err)
	}
	return data, nil
}

func decodeJobBody(rec *store.JobRecord, v any, version func() int) error {
	if err := json.Unmarshal(rec.Body, v); err != nil {
		return permanentf("dispatch: decode job %s body: %v", rec.ID, err)
	}
	if got := version(); got > jobSchemaVersion {
		return permanentf("dispatch: job %s has unsupported schema version %d", rec.ID, got)
	}
	return nil
}

func decodeSendJob(rec *store.JobRecord) (*sendJobBody, error) {
	var body sendJobBody
	if err := decodeJobBody(rec, &body, func() int { return body.SchemaVersion }); err != nil {
		return nil, err
	}
	return &body, nil
}

func decodeConfigSyncJob(rec *store.JobRecord) (*configSyncJobBody, error) {
	var body configSyncJobBody
	if err := decodeJobBody(rec, &body, func() int { return body.SchemaVersion }); err != nil {
		return nil, err
	}
	return &body, nil
}

func decodeAttachmentJob(rec *store.JobRecord) (*attachmentJobBody, error) {
	var body attachmentJobBody
	if err := decodeJobBody(rec, &body, func() int { return body.SchemaVersion }); err != nil {
		return nil, err
	}
	return &body, nil
}

// failureBudget returns the retry cap for a job kind.
func failureBudget(kind string) uint32 {
	switch kind {
	case KindAttachmentDownload, KindAttachmentUpload:
		return maxAttachmentFailures
	default:
		return maxSendFailures
	}
}
