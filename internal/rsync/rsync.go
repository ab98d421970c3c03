// Package rsync implements an rsync-like initiator/responder protocol: a
// dedicated TCP message exchange used to negotiate which chunks of a scan
// need to be transferred, built on internal/wire's metadata block and
// null-separated path list encodings.
package rsync

import (
	"bufio"
	"fmt"
	"io"
	"net"

	"github.com/jive5ab/chaincore/internal/wire"
)

// ListType distinguishes whether a reply enumerates the paths the
// responder already has or the paths it still needs.
type ListType string

const (
	ListHave ListType = "have"
	ListNeed ListType = "need"
)

// Request is the initiator's opening message: the scan name and the set of
// relative paths it wants to reconcile.
type Request struct {
	Scan  string
	Paths []string
}

// Reply is the responder's answer: a list type and the shorter of the two
// path sets.
type Reply struct {
	Type  ListType
	Paths []string
}

// SendRequest encodes and writes a Request as a metadata block followed by
// its null-separated path payload.
func SendRequest(w io.Writer, req Request) error {
	payload := wire.EncodeNullSeparatedPaths(req.Paths)

	md := wire.NewMetadata()
	md.Set("requestRsync", req.Scan)
	md.Set("payloadSize", fmt.Sprintf("%d", len(payload)))

	if _, err := w.Write(md.Encode()); err != nil {
		return fmt.Errorf("rsync: write request metadata: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("rsync: write request payload: %w", err)
	}
	return nil
}

// ReadRequest decodes a Request from r, a metadata block immediately
// followed by its declared payloadSize bytes of null-separated paths.
func ReadRequest(r *bufio.Reader) (Request, error) {
	md, err := readMetadata(r)
	if err != nil {
		return Request{}, fmt.Errorf("rsync: read request metadata: %w", err)
	}

	scan, ok := md.Get("requestRsync")
	if !ok {
		return Request{}, fmt.Errorf("rsync: request missing requestRsync key")
	}
	size, err := readSizeField(md, "payloadSize")
	if err != nil {
		return Request{}, err
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Request{}, fmt.Errorf("rsync: read request payload: %w", err)
	}

	return Request{Scan: scan, Paths: wire.DecodeNullSeparatedPaths(payload)}, nil
}

// SendReply encodes and writes a Reply as a metadata block followed by its
// null-separated path payload.
func SendReply(w io.Writer, reply Reply) error {
	payload := wire.EncodeNullSeparatedPaths(reply.Paths)

	md := wire.NewMetadata()
	md.Set("listType", string(reply.Type))
	md.Set("rsyncReplySz", fmt.Sprintf("%d", len(payload)))

	if _, err := w.Write(md.Encode()); err != nil {
		return fmt.Errorf("rsync: write reply metadata: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("rsync: write reply payload: %w", err)
	}
	return nil
}

// ReadReply decodes a Reply from r.
func ReadReply(r *bufio.Reader) (Reply, error) {
	md, err := readMetadata(r)
	if err != nil {
		return Reply{}, fmt.Errorf("rsync: read reply metadata: %w", err)
	}

	listType, ok := md.Get("listType")
	if !ok {
		return Reply{}, fmt.Errorf("rsync: reply missing listType key")
	}
	size, err := readSizeField(md, "rsyncReplySz")
	if err != nil {
		return Reply{}, err
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Reply{}, fmt.Errorf("rsync: read reply payload: %w", err)
	}

	return Reply{Type: ListType(listType), Paths: wire.DecodeNullSeparatedPaths(payload)}, nil
}

// readMetadata scans r byte-by-byte until the double-NUL terminator DecodeMetadata
// expects, then hands the accumulated bytes to it. The metadata block's
// length isn't known up front, so this can't just io.ReadFull a fixed size.
func readMetadata(r *bufio.Reader) (*wire.Metadata, error) {
	var buf []byte
	nulRun := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)
		if b == 0 {
			nulRun++
			if nulRun == 2 {
				break
			}
		} else {
			nulRun = 0
		}
	}
	md, _, err := wire.DecodeMetadata(buf)
	return md, err
}

func readSizeField(md *wire.Metadata, key string) (int, error) {
	raw, ok := md.Get(key)
	if !ok {
		return 0, fmt.Errorf("rsync: metadata missing %s key", key)
	}
	var size int
	if _, err := fmt.Sscanf(raw, "%d", &size); err != nil {
		return 0, fmt.Errorf("rsync: malformed %s value %q: %w", key, raw, err)
	}
	return size, nil
}

// Diff computes the responder's reply to a Request: the subset of
// requested paths the responder's local inventory lacks. That set is
// always a subset of requested, and therefore always no longer than
// sending back the full inventory — so the responder always replies with
// listType=need: the "shorter of the two sets" resolved concretely rather
// than left as a runtime size comparison.
func Diff(requested []string, localInventory []string) Reply {
	local := make(map[string]bool, len(localInventory))
	for _, p := range localInventory {
		local[p] = true
	}

	var need []string
	for _, p := range requested {
		if !local[p] {
			need = append(need, p)
		}
	}
	return Reply{Type: ListNeed, Paths: need}
}

// DialResponder opens a TCP connection to a responder at addr, for use by
// an initiator driving SendRequest/ReadReply.
func DialResponder(addr string) (net.Conn, error) {
	return net.Dial("tcp", addr)
}
