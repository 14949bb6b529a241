package nip19

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeNpub(t *testing.T) {
	npub, err := EncodePublicKey("3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d")
	require.NoError(t, err)
	assert.Equal(t, "npub180cvv07tjdrrgpa0j7j7tmnyl2yr6yr7l8j4s3evf6u64th6gkwsyjh6w6", npub)
}

func TestEncodeNsec(t *testing.T) {
	nsec, err := EncodePrivateKey("67dea2ed018072d675f5415ecfaed7d2597555e202d85b3d65ea4e58d2d92ffa")
	require.NoError(t, err)
	assert.Equal(t, "nsec1vl029mgpspedva04g90vltkh6fvh240zqtv9k0t9af8935ke9laqsnlfe5", nsec)
}

func TestDecodeNpub(t *testing.T) {
	prefix, pubkey, err := Decode("npub1sn0wdenkukak0d9dfczzeacvhkrgz92ak56egt7vdgzn8pv2wfqqhrjdv9")
	require.NoError(t, err)
	assert.Equal(t, "npub", prefix)
	assert.Equal(t, "84dee6e676e5bb67b4ad4e042cf70cbd8681155db535942fcc6a0533858a7240", pubkey)
}

func TestDecodeNsec(t *testing.T) {
	prefix, sk, err := Decode("nsec1vl029mgpspedva04g90vltkh6fvh240zqtv9k0t9af8935ke9laqsnlfe5")
	require.NoError(t, err)
	assert.Equal(t, "nsec", prefix)
	assert.Equal(t, "67dea2ed018072d675f5415ecfaed7d2597555e202d85b3d65ea4e58d2d92ffa", sk)
}

func TestNoteRoundTrip(t *testing.T) {
	id := "dc90c95f09947507c1044e8f48bcf6350aa6bff1507dd4acfc755b9239b5c962"

	note, err := EncodeNote(id)
	require.NoError(t, err)
	assert.Equal(t, "note", note[:4])

	prefix, back, err := Decode(note)
	require.NoError(t, err)
	assert.Equal(t, "note", prefix)
	assert.Equal(t, id, back)
}

func TestDecodeGarbage(t *testing.T) {
	for _, input := range []string{
		"",
		"nsec",
		"npub1xxxxxxxxx",
		"lnbc1qqqqqqqqq",
	} {
		_, _, err := Decode(input)
		assert.Error(t, err, "expected an error for %q", input)
	}
}

func TestEncodeRejectsBadPayload(t *testing.T) {
	_, err := EncodePublicKey("nothex")
	assert.Error(t, err)

	_, err = EncodePrivateKey("aabb")
	assert.Error(t, err, "payload must be exactly 32 bytes")
}
