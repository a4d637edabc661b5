package cache

import gocache "github.com/patrickmn/go-cache"

// SignatureIndex remembers which feed first carried each archive signature
type SignatureIndex struct {
	mem *MemoryCache
}

// NewSignatureIndex creates an empty index whose entries never expire
func NewSignatureIndex() *SignatureIndex {
	return &SignatureIndex{mem: NewMemoryCache(gocache.NoExpiration, 0)}
}

// Claim records feedID as the owner of signature if nobody owns it yet.
// It returns the owner and whether feedID is it.
func (s *SignatureIndex) Claim(signature, feedID string) (owner string, first bool) {
	if s.mem.Add(signature, []byte(feedID), gocache.NoExpiration) {
		return feedID, true
	}
	val, _ := s.mem.Get(signature)
	return string(val), false
}

// Len is the number of distinct signatures
func (s *SignatureIndex) Len() int {
	return s.mem.Len()
}
