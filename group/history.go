package group

import (
	lru "github.com/hashicorp/golang-lru"
)

// history remembers recently sent DATA frames by sequence number so that
// retransmit requests can be answered.
type history struct {
	cache *lru.Cache
}

func newHistory(size int) (*history, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &history{cache: cache}, nil
}

func (h *history) add(seq uint64, frame []byte) {
	h.cache.Add(seq, frame)
}

func (h *history) get(seq uint64) ([]byte, bool) {
	v, ok := h.cache.Get(seq)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (h *history) len() int {
	return h.cache.Len()
}
