package data

import "strings"

// pairKeySeparator never appears inside a hex object id.
const pairKeySeparator = "_"

// PairKey derives the canonical key of a two-party conversation. The ids are
// sorted before joining so PairKey(a, b) == PairKey(b, a); the key carries a
// unique index and is what get-or-create upserts on.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return strings.Join([]string{a, b}, pairKeySeparator)
}

// pairOf parses both ids and returns their pair key.
func pairOf(userID, peerID string) (string, error) {
	me, err := ParseID(userID)
	if err != nil {
		return "", err
	}
	peer, err := ParseID(peerID)
	if err != nil {
		return "", err
	}
	if me == peer {
		return "", ErrSelfConversation
	}
	return PairKey(me.Hex(), peer.Hex()), nil
}
