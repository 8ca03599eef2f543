package transcript

import (
	"fmt"
	"testing"
)

func TestBuffer_AppendKeepsOrderAndCopies(t *testing.T) {
	b := NewBuffer()
	b.Append(Entry{TimestampSeconds: 1, Speaker: SpeakerLocal, Text: "a"})
	b.Append(Entry{TimestampSeconds: 3, Speaker: SpeakerLocal, Text: "b"})

	got := b.Entries()
	if len(got) != 2 || got[0].Text != "a" || got[1].Text != "b" {
		t.Fatalf("unexpected entries: %+v", got)
	}
	got[0].Text = "mutated"
	if b.Entries()[0].Text != "a" {
		t.Fatal("expected Entries to return a copy")
	}
	last, ok := b.Last()
	if !ok || last.Text != "b" {
		t.Fatalf("unexpected last entry: %+v ok=%v", last, ok)
	}
}

func TestBuffer_NeverTrims(t *testing.T) {
	b := NewBuffer()
	for i := 0; i < 200; i++ {
		b.Append(Entry{TimestampSeconds: i, Text: fmt.Sprint(i)})
	}
	if b.Len() != 200 {
		t.Fatalf("expected 200 entries, got %d", b.Len())
	}
}

func TestCaptions_KeepsLastFive(t *testing.T) {
	c := NewCaptions()
	for i := 0; i < 8; i++ {
		c.Push(Entry{TimestampSeconds: i, Text: fmt.Sprint(i)})
	}
	got := c.Snapshot()
	if len(got) != RecentCaptionsSize {
		t.Fatalf("expected %d captions, got %d", RecentCaptionsSize, len(got))
	}
	if got[0].Text != "3" || got[4].Text != "7" {
		t.Fatalf("unexpected captions window: %+v", got)
	}
}
