package snapdb

import (
	"github.com/klauspost/compress/zstd"
)

const (
	payloadFormatVer1      = 1
	payloadFormatVerLatest = payloadFormatVer1
)

type payloadFlags uint64

const (
	pfVerBit0 = payloadFlags(1 << iota)
	pfVerBit1
	pfVerBit2
	pfVerBit3
	pfCompressionBit0

	pfVerMask       = (pfVerBit0 | pfVerBit1 | pfVerBit2 | pfVerBit3)
	pfVer1          = pfVerBit0
	pfZstd          = pfCompressionBit0
	pfSupportedMask = (pfVer1 | pfZstd)
)

// Bodies shorter than this are stored uncompressed; the zstd frame
// header alone would negate any gain.
const compressMinSize = 64

var (
	zstdEnc = must(zstd.NewWriter(nil))
	zstdDec = must(zstd.NewReader(nil))
)

func encodePayload(buf []byte, body []byte, compress bool) []byte {
	flags := pfVer1
	if compress && len(body) >= compressMinSize {
		flags |= pfZstd
		body = zstdEnc.EncodeAll(body, nil)
	}
	buf = appendUvarint(buf, uint64(flags))
	buf = appendUvarint(buf, uint64(len(body)))
	buf = appendRaw(buf, body)
	return buf
}

func decodePayload(data []byte) ([]byte, error) {
	d := makeByteDecoder(data)

	v, err := d.Uvarint()
	if err != nil {
		return nil, dataErrf(data, d.Off(), err, "invalid payload: bad flags")
	}
	if (v & ^uint64(pfSupportedMask)) != 0 {
		return nil, dataErrf(data, d.Off(), nil, "invalid payload: unsupported flags %x", v)
	}
	flags := payloadFlags(v)
	if flags&pfVerMask != pfVer1 {
		return nil, dataErrf(data, d.Off(), nil, "invalid payload: unsupported format version")
	}

	size, err := d.Uvarinti()
	if err != nil {
		return nil, dataErrf(data, d.Off(), err, "invalid payload: bad body size")
	}
	body, err := d.Raw(size)
	if err != nil {
		return nil, dataErrf(data, d.Off(), err, "invalid payload: truncated body")
	}

	if flags&pfZstd != 0 {
		body, err = zstdDec.DecodeAll(body, nil)
		if err != nil {
			return nil, dataErrf(data, d.Off(), err, "invalid payload: bad zstd frame")
		}
	}
	return body, nil
}
