package mqttpub

import (
	"encoding/json"
	"testing"
)

func TestTopicJoinsPrefixAndAddress(t *testing.T) {
	got := topic("pca301gw", 42)
	want := "pca301gw/42"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildPayloadRoundTrips(t *testing.T) {
	raw, err := buildPayload(7, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("buildPayload: %v", err)
	}

	var got update
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Addr != 7 || len(got.Data) != 3 || got.Data[0] != 1 || got.Data[2] != 3 {
		t.Fatalf("got %+v", got)
	}
}
