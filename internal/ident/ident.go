// Package ident maps short numeric account identifiers to canonical
// 64-bit player identifiers.
package ident

import "strconv"

// Base is the offset between an account ID and its canonical 64-bit
// identifier. Canonical IDs are stored as decimal strings because they
// exceed what JSON consumers handle safely as numbers.
const Base uint64 = 76561197960265728

// SteamID64 converts a short numeric account identifier to its canonical
// 64-bit identifier string. The mapping is exact: Base + accountID.
func SteamID64(accountID uint32) string {
	return strconv.FormatUint(Base+uint64(accountID), 10)
}
