package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainEntry  = "regfeed/entry/v1"
	DomainRecord = "regfeed/record/v1"
	DomainFeed   = "regfeed/feed/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalEntry is the object hashed for an entry. Value is omitted for
// tombstones and for entries without a payload.
func canonicalEntry(e Entry) IRObject {
	obj := IRObject{
		"name":      IRString(e.Name),
		"seq":       IRInt(e.Seq),
		"author":    IRString(e.Author),
		"tombstone": IRBool(e.Tombstone),
	}
	if len(e.Value) > 0 {
		obj["value"] = e.Value
	}
	return obj
}

// EntryHash computes the content address of an entry.
// Equal entries hash equally regardless of map iteration order.
func EntryHash(e Entry) (string, error) {
	data, err := MarshalCanonical(canonicalEntry(e))
	if err != nil {
		return "", fmt.Errorf("EntryHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEntry, data), nil
}

// RecordHash chains a feed record to its predecessor.
// prev is the previous record's hash, or "" for the first record.
func RecordHash(index int64, prev, entryHash string) string {
	obj := IRObject{
		"index": IRInt(index),
		"prev":  IRString(prev),
		"entry": IRString(entryHash),
	}
	// Only strings and ints: canonical marshaling cannot fail here.
	data, _ := MarshalCanonical(obj)
	return hashWithDomain(DomainRecord, data)
}

// DeriveFeedID derives a stable feed identity from an arbitrary key such as
// an absolute file path. The result is the first 32 hex characters of the
// domain-separated hash.
func DeriveFeedID(key string) FeedID {
	return FeedID(hashWithDomain(DomainFeed, []byte(key))[:32])
}

// MustEntryHash is like EntryHash but panics on error.
// Use only in tests or when the value is known to be valid.
func MustEntryHash(e Entry) string {
	h, err := EntryHash(e)
	if err != nil {
		panic(err)
	}
	return h
}
