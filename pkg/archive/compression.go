package archive

import (
	"github.com/klauspost/compress/zstd"

	"github.com/ErodeesFleurs/OpenStarbound-sub000/pkg/dberr"
)

// Compress and Decompress are the §6 compression.{compress,decompress}
// utility contract: available to an archive's consumers for asset
// bodies they choose to store compressed, never applied automatically
// by Build or Read so that a plain round trip stays byte-identical.
func Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, dberr.Wrap(err, "create zstd encoder")
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, dberr.Wrap(err, "create zstd decoder")
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, dberr.Corruption("zstd decode failed: %v", err)
	}
	return out, nil
}
