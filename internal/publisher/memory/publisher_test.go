package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/spa-archiver/internal/archive"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	event := archive.Completed{JobID: "job-1", Target: "https://example.com/", ArchiveURI: "gs://b/run", Routes: 2}
	id1, err := pub.Publish(context.Background(), "archives", event)
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "other", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "archives" || msgs[1].Topic != "other" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}
	want := `{"job_id":"job-1","target":"https://example.com/","archive_uri":"gs://b/run","routes":2,"resources":0,"timestamp":""}`
	if string(msgs[0].Data) != want {
		t.Fatalf("unexpected wire form %s", msgs[0].Data)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherFailure(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("unavailable")
	pub.FailWith(boom)
	if _, err := pub.Publish(context.Background(), "archives", "x"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if len(pub.Messages()) != 0 {
		t.Fatal("failed publishes must not be recorded")
	}
	if _, err := pub.Publish(context.Background(), "archives", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}
