package storage

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/DanielFluxman/Alexandria2/models"
)

func TestEncodeArchiveRoundTrip(t *testing.T) {
	events := []models.AuditEvent{
		{EventID: "ev-1", Action: models.ActionScrollSubmitted, TargetID: "wip-1"},
		{EventID: "ev-2", Action: models.ActionScrollPublished, TargetID: "wip-1"},
	}
	data, err := EncodeArchive(events)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	dec := json.NewDecoder(gz)
	var decoded []models.AuditEvent
	for {
		var ev models.AuditEvent
		if err := dec.Decode(&ev); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("decode: %v", err)
		}
		decoded = append(decoded, ev)
	}
	if len(decoded) != 2 || decoded[0].EventID != "ev-1" || decoded[1].Action != models.ActionScrollPublished {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestArchiveKeyFormat(t *testing.T) {
	key := ArchiveKey(time.Date(2026, 9, 1, 12, 30, 0, 0, time.UTC))
	if key != "audit-2026-09-01T12-30-00Z.jsonl.gz" {
		t.Fatalf("key = %s", key)
	}
}
