package workers

import "hash/fnv"

// HashPartitioner is the default Partitioner: it routes records to
// subpartitions by hashing the record key, so that all records sharing a
// key land in the same subpartition and keep their relative order. With no
// key, records route to subpartition 0.
type HashPartitioner struct {
	NumSubpartitions int
}

// NewHashPartitioner returns a HashPartitioner that routes to
// [0, numSubpartitions).
func NewHashPartitioner(numSubpartitions int) *HashPartitioner {
	if numSubpartitions <= 0 {
		numSubpartitions = 1
	}
	return &HashPartitioner{NumSubpartitions: numSubpartitions}
}

// SubpartitionFor implements Partitioner.
func (p *HashPartitioner) SubpartitionFor(record Record) int {
	if len(record.Key) == 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(record.Key)
	return int(h.Sum32()) % p.NumSubpartitions
}
