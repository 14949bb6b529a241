package nostrkit

const (
	KindProfileMetadata        int = 0
	KindTextNote               int = 1
	KindRecommendServer        int = 2
	KindContactList            int = 3
	KindEncryptedDirectMessage int = 4
	KindDeletion               int = 5
	KindRepost                 int = 6
	KindReaction               int = 7
	KindRelayListMetadata      int = 10002
	KindClientAuthentication   int = 22242
	KindArticle                int = 30023
)

// IsRegularKind checks if events of this kind are expected to be stored
// by relays.
func IsRegularKind(kind int) bool {
	return kind < 10000 && kind != 0 && kind != 3
}

// IsReplaceableKind checks if events of this kind are replaceable,
// i.e. relays keep only the latest event per pubkey.
func IsReplaceableKind(kind int) bool {
	return kind == 0 || kind == 3 || (10000 <= kind && kind < 20000)
}

// IsEphemeralKind checks if events of this kind are not expected to be
// stored at all.
func IsEphemeralKind(kind int) bool {
	return 20000 <= kind && kind < 30000
}

// IsAddressableKind checks if events of this kind are replaceable per
// pubkey and "d" tag value.
func IsAddressableKind(kind int) bool {
	return 30000 <= kind && kind < 40000
}
