package ngff

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"

	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/store/core"
)

// fingerprintKey is the BLAKE3 key for bundle fingerprints: the ASCII
// domain name, zero-padded to 32 bytes.
var fingerprintKey = [32]byte{
	'o', 'm', 'n', 'i', 's', 'p', 'a', 't', 'i', 'a', 'l', '.', 'b', 'u', 'n', 'd', 'l', 'e',
}

// Fingerprint hashes every object in st, in key order, as key length, key,
// content length and content. Two bundles with identical objects share a
// fingerprint regardless of driver. Provenance timestamps are part of the
// root attributes, so rewriting the same dataset keeps the fingerprint
// while re-running an adapter does not.
func Fingerprint(ctx context.Context, st core.Store) (string, error) {
	infos, err := st.List(ctx, "")
	if err != nil {
		return "", errors.Wrap(err, "list bundle")
	}
	h, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		return "", errors.Wrap(err, "init hasher")
	}
	var size [8]byte
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		binary.LittleEndian.PutUint64(size[:], uint64(len(info.Key)))
		h.Write(size[:])
		io.WriteString(h, info.Key)

		data, err := core.ReadAll(ctx, st, info.Key)
		if err != nil {
			return "", err
		}
		binary.LittleEndian.PutUint64(size[:], uint64(len(data)))
		h.Write(size[:])
		h.Write(data)
	}
	return base58.Encode(h.Sum(nil)), nil
}
