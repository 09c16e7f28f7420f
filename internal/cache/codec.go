package cache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// 快照以 HTTP/1.1 报文落盘，元数据放在私有头中，读取时剥离。
const (
	headerRequest  = "X-Offline-Agent-Request"
	headerURL      = "X-Offline-Agent-Url"
	headerType     = "X-Offline-Agent-Type"
	headerStoredAt = "X-Offline-Agent-Stored-At"
)

func encodeEntry(desc Descriptor, snap Snapshot) ([]byte, error) {
	header := snap.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	storedAt := snap.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	header.Set(headerRequest, desc.Key())
	header.Set(headerURL, snap.URL)
	header.Set(headerType, snap.Type)
	header.Set(headerStoredAt, strconv.FormatInt(storedAt.UnixNano(), 10))

	resp := &http.Response{
		StatusCode:    snap.Status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(snap.Body)),
		ContentLength: int64(len(snap.Body)),
	}
	buf := &bytes.Buffer{}
	if err := resp.Write(buf); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeEntry(raw []byte) (Descriptor, Snapshot, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	if err != nil {
		return Descriptor{}, Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Descriptor{}, Snapshot{}, fmt.Errorf("decode snapshot body: %w", err)
	}

	desc, err := parseDescriptor(resp.Header.Get(headerRequest))
	if err != nil {
		return Descriptor{}, Snapshot{}, err
	}
	snap := Snapshot{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
		URL:    resp.Header.Get(headerURL),
		Type:   resp.Header.Get(headerType),
	}
	if nanos, err := strconv.ParseInt(resp.Header.Get(headerStoredAt), 10, 64); err == nil {
		snap.StoredAt = time.Unix(0, nanos).UTC()
	}
	for _, key := range []string{headerRequest, headerURL, headerType, headerStoredAt} {
		snap.Header.Del(key)
	}
	return desc, snap, nil
}

func parseDescriptor(raw string) (Descriptor, error) {
	method, rawURL, ok := strings.Cut(strings.TrimSpace(raw), " ")
	if !ok || method == "" || rawURL == "" {
		return Descriptor{}, fmt.Errorf("invalid descriptor %q", raw)
	}
	return Descriptor{Method: method, URL: rawURL}, nil
}
