// Package ir defines the data carried by registry feeds.
//
// This package contains type definitions and their canonical encoding only.
// All other internal packages import ir; ir imports nothing internal, so it
// stays the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types in entry values - use int64 for numbers
//   - Ordering uses the logical (Seq, Author) version, never wall-clock time
//   - All JSON tags use snake_case
//   - Content hashes use RFC 8785 canonical JSON with domain separation
package ir
