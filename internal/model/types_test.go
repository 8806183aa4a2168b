package model

import (
	"testing"
	"time"
)

func TestRemoteKeyRoundTrip(t *testing.T) {
	key := RemoteKey(-1001234567890, 42, 998877665544)
	ch, msg, doc, err := ParseRemoteKey(key)
	if err != nil {
		t.Fatalf("ParseRemoteKey: %v", err)
	}
	if ch != -1001234567890 || msg != 42 || doc != 998877665544 {
		t.Fatalf("round trip mismatch: %d %d %d", ch, msg, doc)
	}
}

func TestParseRemoteKeyMalformed(t *testing.T) {
	cases := []string{"", "123", "a_b_c", "1_2", "1_2_3_4", "local_abc_123x"}
	for _, key := range cases {
		if _, _, _, err := ParseRemoteKey(key); err == nil {
			t.Errorf("ParseRemoteKey(%q): expected error", key)
		}
	}
}

func TestNewJob(t *testing.T) {
	f := FileRef{RemoteID: "1_2_3", Filename: "leak.zip", Timestamp: time.Now()}
	j := NewJob(f)

	if j.ID == "" {
		t.Fatal("job ID not generated")
	}
	if j.Status != JobQueued {
		t.Fatalf("new job status = %q, want %q", j.Status, JobQueued)
	}
	if j.File.RemoteID != "1_2_3" {
		t.Fatalf("file not attached: %+v", j.File)
	}
	if len(j.ShortID()) != 8 {
		t.Fatalf("short ID = %q", j.ShortID())
	}

	other := NewJob(f)
	if other.ID == j.ID {
		t.Fatal("job IDs must be unique per attempt")
	}
}
