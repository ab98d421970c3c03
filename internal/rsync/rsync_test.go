package rsync

import (
	"bufio"
	"bytes"
	"reflect"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := Request{Scan: "scan001", Paths: []string{"a/1.dat", "a/2.dat", "b/3.dat"}}
	if err := SendRequest(&buf, req); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	got, err := ReadRequest(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if got.Scan != req.Scan {
		t.Fatalf("scan mismatch: got %q want %q", got.Scan, req.Scan)
	}
	if !reflect.DeepEqual(got.Paths, req.Paths) {
		t.Fatalf("paths mismatch: got %v want %v", got.Paths, req.Paths)
	}
}

func TestReplyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	reply := Reply{Type: ListNeed, Paths: []string{"a/2.dat"}}
	if err := SendReply(&buf, reply); err != nil {
		t.Fatalf("SendReply: %v", err)
	}

	got, err := ReadReply(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadReply: %v", err)
	}
	if got.Type != reply.Type {
		t.Fatalf("type mismatch: got %q want %q", got.Type, reply.Type)
	}
	if !reflect.DeepEqual(got.Paths, reply.Paths) {
		t.Fatalf("paths mismatch: got %v want %v", got.Paths, reply.Paths)
	}
}

func TestDiffReturnsOnlyMissingPaths(t *testing.T) {
	requested := []string{"a/1.dat", "a/2.dat", "a/3.dat"}
	local := []string{"a/1.dat", "a/3.dat"}

	reply := Diff(requested, local)
	if reply.Type != ListNeed {
		t.Fatalf("expected listType need, got %q", reply.Type)
	}
	if !reflect.DeepEqual(reply.Paths, []string{"a/2.dat"}) {
		t.Fatalf("expected only a/2.dat missing, got %v", reply.Paths)
	}
}

func TestDiffEmptyWhenNothingMissing(t *testing.T) {
	requested := []string{"a/1.dat"}
	local := []string{"a/1.dat"}

	reply := Diff(requested, local)
	if len(reply.Paths) != 0 {
		t.Fatalf("expected no missing paths, got %v", reply.Paths)
	}
}

func TestReadRequestRejectsMissingKey(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("payloadSize: 0\x00\x00")
	if _, err := ReadRequest(bufio.NewReader(&buf)); err == nil {
		t.Fatalf("expected error for missing requestRsync key")
	}
}
