package store

import (
	"bytes"
	"testing"
)

func TestJobRecordRoundTrip(t *testing.T) {
	s := testStore(t)

	j := &JobRecord{
		ID:           "job-1",
		Kind:         "send",
		Body:         []byte(`{"schemaVersion":1,"messageId":"m1"}`),
		FailureCount: 3,
		Deferred:     false,
	}
	if err := s.InsertJob(j); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected job, got nil")
	}
	if got.Kind != "send" || got.FailureCount != 3 || got.Deferred {
		t.Errorf("job = %+v", got)
	}
	if !bytes.Equal(got.Body, j.Body) {
		t.Errorf("body = %s, want %s", got.Body, j.Body)
	}
}

func TestPendingJobsSkipsDeferred(t *testing.T) {
	s := testStore(t)

	if err := s.InsertJob(&JobRecord{ID: "a", Kind: "send", Body: []byte("{}")}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertJob(&JobRecord{ID: "b", Kind: "send", Body: []byte("{}"), Deferred: true}); err != nil {
		t.Fatal(err)
	}

	jobs, err := s.PendingJobs()
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != "a" {
		t.Fatalf("pending = %+v, want only job a", jobs)
	}

	// Resuming the deferred job makes it pending.
	if err := s.SetJobDeferred("b", false); err != nil {
		t.Fatal(err)
	}
	jobs, err = s.PendingJobs()
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("pending = %d jobs, want 2", len(jobs))
	}
}

func TestDeleteJob(t *testing.T) {
	s := testStore(t)

	if err := s.InsertJob(&JobRecord{ID: "a", Kind: "send", Body: []byte("{}")}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteJob("a"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetJob("a")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("job survived delete")
	}
}
