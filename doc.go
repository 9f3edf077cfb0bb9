/*
Package snapdb implements an object store for Monte-Carlo path sampling
records (atomic configurations, momenta, composite snapshots) in a single
random-access file (in this case, on top of Bolt).

We implement:

1. Object stores, one per record class, allocating append-only integer
indices and performing all reads and writes through the class's feature
list.

2. Features, reusable bundles of named persisted variables plus the code
to initialize, read and write them, composed into a store's schema at
initialization time.

3. An identity cache per store, bounded and LRU-evicted, guaranteeing at
most one live in-memory instance per (store, index).

4. Lazy proxies, cheap (store, index) stand-ins that resolve through the
cache on first access.

5. Paired-index encoding for snapshot-kind records: indices 2k and 2k+1
are time-reversed twins of one physical payload, stored once per pair.

# Technical Details

**Buckets.**
Each store owns a root bucket named after its class, with one nested
bucket per declared variable plus a "meta" bucket. Row keys are 8-byte
big-endian indices. Payload variables of paired stores are keyed by the
pair row (index >> 1); per-slot variables (the reversal flag, record
names) are keyed by the index itself.

**Store meta** holds the sizing metadata (msgpack), the schema
fingerprint (xxhash of the canonical sizing+variable encoding), and the
committed slot count. A reopened file restores each store's schema from
its meta bucket; initializing again with different sizing fails.

## Binary encoding

**Scalar variables** (bool, uint64, string) are stored raw.

**Array variables** are stored as an envelope:
1. Flags (uvarint): format version plus a zstd compression bit.
2. Body size (uvarint).
3. Body: msgpack of the shaped array, zstd-compressed when the
compression bit is set.

**Pairing.**
The caller's record always lands on the even slot; the odd slot is never
written beyond its reversal flag. Loading the odd slot derives the
logical record by applying each feature's reversal transform to the
stored payload (or to a cached sibling, avoiding the payload read
entirely).
*/
package snapdb
