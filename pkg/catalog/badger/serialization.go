package badger

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/konradgithuup/io-backends/pkg/catalog"
)

// Records are encoded with XDR (RFC 4506). The record only holds strings and
// 64-bit integers, so the encoding is compact and has a fixed field order.
// Adding a field changes the wire layout: bump recordVersion and decode the
// old layout explicitly.

const recordVersion uint32 = 1

// recordData is the on-disk shape of a catalog.Record.
type recordData struct {
	Version   uint32
	Namespace string
	Name      string
	Path      string
	Engine    string
	Key       int64
	Created   int64
}

func encodeRecord(rec catalog.Record) ([]byte, error) {
	data := recordData{
		Version:   recordVersion,
		Namespace: rec.Namespace,
		Name:      rec.Name,
		Path:      rec.Path,
		Engine:    rec.Engine,
		Key:       rec.Key,
		Created:   rec.Created,
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &data); err != nil {
		return nil, fmt.Errorf("failed to encode record %s: %w", catalog.Key(rec.Namespace, rec.Name), err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(b []byte) (catalog.Record, error) {
	var data recordData
	if _, err := xdr.Unmarshal(bytes.NewReader(b), &data); err != nil {
		return catalog.Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	if data.Version != recordVersion {
		return catalog.Record{}, fmt.Errorf("unsupported record version %d", data.Version)
	}

	return catalog.Record{
		Namespace: data.Namespace,
		Name:      data.Name,
		Path:      data.Path,
		Engine:    data.Engine,
		Key:       data.Key,
		Created:   data.Created,
	}, nil
}
