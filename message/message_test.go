// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package message

import (
	"testing"
	"time"

	"github.com/hwdag/hwnode/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSignedBlock(t *testing.T, seqNum uint64, parents []common.Hash) *Block {
	t.Helper()
	pub, priv, err := GenerateKey()
	require.NoError(t, err)

	b := &Block{
		Header: Header{
			ValidatorID:        pub,
			ValidatorMsgSeqNum: seqNum,
			Parents:            parents,
			EraID:              common.HexToHash("0xe1"),
			RoundID:            1,
			Timestamp:          time.Unix(1700000000, 0).UTC(),
		},
		PostStateHash: common.HexToHash("0xabc"),
		Bonds:         []Bond{{Validator: pub, Stake: 100}},
	}
	_, err = Sign(b, priv)
	require.NoError(t, err)
	return b
}

func TestHeaderIsGenesis(t *testing.T) {
	b := newSignedBlock(t, 0, nil)
	assert.True(t, b.IsGenesis())

	b2 := newSignedBlock(t, 1, []common.Hash{b.Hash()})
	assert.False(t, b2.IsGenesis())
	assert.Equal(t, b.Hash(), b2.MainParent())
}

func TestSignAndVerify(t *testing.T) {
	b := newSignedBlock(t, 0, nil)
	assert.NoError(t, Verify(b))
	assert.NotEqual(t, common.Hash{}, b.Hash())
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	b := newSignedBlock(t, 0, nil)
	b.PostStateHash = common.HexToHash("0xdead")
	assert.Error(t, Verify(b))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	b := newSignedBlock(t, 0, nil)
	otherPub, _, err := GenerateKey()
	require.NoError(t, err)
	b.ValidatorID = otherPub
	assert.Error(t, Verify(b))
}

func TestBlockWireRoundTrip(t *testing.T) {
	b := newSignedBlock(t, 3, []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")})
	b.Justifications = []Justification{{Validator: b.ValidatorID, LatestMessage: common.HexToHash("0x03")}}
	b.Deploys = []common.Hash{common.HexToHash("0x04")}
	b.IsBookingBlock = true

	payload := b.SignedPayload()
	decoded, err := DecodeBlock(payload)
	require.NoError(t, err)

	assert.Equal(t, b.ValidatorID, decoded.ValidatorID)
	assert.Equal(t, b.ValidatorMsgSeqNum, decoded.ValidatorMsgSeqNum)
	assert.Equal(t, b.Parents, decoded.Parents)
	assert.Equal(t, b.Justifications, decoded.Justifications)
	assert.Equal(t, b.EraID, decoded.EraID)
	assert.Equal(t, b.RoundID, decoded.RoundID)
	assert.Equal(t, b.Timestamp.UnixNano(), decoded.Timestamp.UnixNano())
	assert.Equal(t, b.Deploys, decoded.Deploys)
	assert.Equal(t, b.PostStateHash, decoded.PostStateHash)
	assert.Equal(t, b.Bonds, decoded.Bonds)
	assert.True(t, decoded.IsBookingBlock)
	assert.False(t, decoded.IsSwitchBlock)

	assert.Equal(t, payload, decoded.SignedPayload())
}

func TestBallotWireRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKey()
	require.NoError(t, err)
	v := &Ballot{
		Header: Header{
			ValidatorID:        pub,
			ValidatorMsgSeqNum: 1,
			Parents:            []common.Hash{common.HexToHash("0x01")},
			EraID:              common.HexToHash("0xe1"),
			RoundID:            2,
			Timestamp:          time.Unix(1700000001, 0).UTC(),
		},
		Target:        common.HexToHash("0x0f"),
		PostStateHash: common.HexToHash("0xab"),
	}
	_, err = Sign(v, priv)
	require.NoError(t, err)

	decoded, err := DecodeBallot(v.SignedPayload())
	require.NoError(t, err)
	assert.Equal(t, v.Target, decoded.Target)
	assert.Equal(t, v.PostStateHash, decoded.PostStateHash)
	assert.Equal(t, v.ValidatorID, decoded.ValidatorID)
}

func TestDeployExpired(t *testing.T) {
	d := &Deploy{
		Timestamp: time.Unix(1700000000, 0).UTC(),
		TTL:       time.Hour,
	}
	assert.False(t, d.Expired(time.Unix(1700000000, 0).Add(time.Minute).UTC()))
	assert.True(t, d.Expired(time.Unix(1700000000, 0).Add(2*time.Hour).UTC()))
}
