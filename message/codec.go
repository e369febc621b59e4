// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package message

import (
	"fmt"
	"time"

	"github.com/hwdag/hwnode/common"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers for the hand-rolled protobuf wire encoding of a Message's
// signed payload (spec §6: "Wire format ... is its Protobuf encoding").
// There is no generated .proto here: the encoding is built and parsed
// directly with protowire, the same low-level package codegen'd stubs
// compile down to — sufficient for a small, fixed field set like this one.
const (
	fieldValidatorID       = 1
	fieldSeqNum            = 2
	fieldPrevHash          = 3
	fieldParent            = 4
	fieldJustification     = 5
	fieldEraID             = 6
	fieldRoundID           = 7
	fieldTimestampUnixNano = 8
	fieldDeploy            = 9
	fieldPostStateHash     = 10
	fieldBond              = 11
	fieldIsBookingBlock    = 12
	fieldIsSwitchBlock     = 13
	fieldTarget            = 14

	subfieldJustificationValidator = 1
	subfieldJustificationHash      = 2

	subfieldBondValidator = 1
	subfieldBondStake     = 2
)

func appendHeaderFields(b []byte, h *Header) []byte {
	b = protowire.AppendTag(b, fieldValidatorID, protowire.BytesType)
	b = protowire.AppendBytes(b, h.ValidatorID)

	b = protowire.AppendTag(b, fieldSeqNum, protowire.VarintType)
	b = protowire.AppendVarint(b, h.ValidatorMsgSeqNum)

	b = protowire.AppendTag(b, fieldPrevHash, protowire.BytesType)
	b = protowire.AppendBytes(b, h.ValidatorPrevMessageHash.Bytes())

	for _, p := range h.Parents {
		b = protowire.AppendTag(b, fieldParent, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Bytes())
	}

	for _, j := range h.Justifications {
		var sub []byte
		sub = protowire.AppendTag(sub, subfieldJustificationValidator, protowire.BytesType)
		sub = protowire.AppendBytes(sub, j.Validator)
		sub = protowire.AppendTag(sub, subfieldJustificationHash, protowire.BytesType)
		sub = protowire.AppendBytes(sub, j.LatestMessage.Bytes())

		b = protowire.AppendTag(b, fieldJustification, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}

	b = protowire.AppendTag(b, fieldEraID, protowire.BytesType)
	b = protowire.AppendBytes(b, h.EraID.Bytes())

	b = protowire.AppendTag(b, fieldRoundID, protowire.VarintType)
	b = protowire.AppendVarint(b, h.RoundID)

	b = protowire.AppendTag(b, fieldTimestampUnixNano, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.Timestamp.UnixNano()))

	return b
}

func appendBonds(b []byte, bonds []Bond) []byte {
	for _, bond := range bonds {
		var sub []byte
		sub = protowire.AppendTag(sub, subfieldBondValidator, protowire.BytesType)
		sub = protowire.AppendBytes(sub, bond.Validator)
		sub = protowire.AppendTag(sub, subfieldBondStake, protowire.VarintType)
		sub = protowire.AppendVarint(sub, bond.Stake)

		b = protowire.AppendTag(b, fieldBond, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return b
}

// SignedPayload returns the canonical wire bytes that are hashed and signed
// for a Block.
func (b *Block) SignedPayload() []byte {
	buf := appendHeaderFields(nil, &b.Header)
	for _, d := range b.Deploys {
		buf = protowire.AppendTag(buf, fieldDeploy, protowire.BytesType)
		buf = protowire.AppendBytes(buf, d.Bytes())
	}
	buf = protowire.AppendTag(buf, fieldPostStateHash, protowire.BytesType)
	buf = protowire.AppendBytes(buf, b.PostStateHash.Bytes())
	buf = appendBonds(buf, b.Bonds)
	buf = protowire.AppendTag(buf, fieldIsBookingBlock, protowire.VarintType)
	buf = protowire.AppendVarint(buf, boolVarint(b.IsBookingBlock))
	buf = protowire.AppendTag(buf, fieldIsSwitchBlock, protowire.VarintType)
	buf = protowire.AppendVarint(buf, boolVarint(b.IsSwitchBlock))
	return buf
}

// SignedPayload returns the canonical wire bytes that are hashed and signed
// for a Ballot.
func (v *Ballot) SignedPayload() []byte {
	buf := appendHeaderFields(nil, &v.Header)
	buf = protowire.AppendTag(buf, fieldTarget, protowire.BytesType)
	buf = protowire.AppendBytes(buf, v.Target.Bytes())
	buf = protowire.AppendTag(buf, fieldPostStateHash, protowire.BytesType)
	buf = protowire.AppendBytes(buf, v.PostStateHash.Bytes())
	buf = appendBonds(buf, v.Bonds)
	return buf
}

func boolVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// DecodeBlock parses the wire bytes produced by (*Block).SignedPayload back
// into a Block (minus Signature, which the caller attaches separately).
// Used by the wire round-trip property (spec §8 property 5) and by
// gossip/storage adapters outside this package's scope.
func DecodeBlock(buf []byte) (*Block, error) {
	b := &Block{}
	rest, err := decodeHeaderFieldsInto(&b.Header, buf, func(num protowire.Number, typ protowire.Type, field []byte) (bool, error) {
		switch num {
		case fieldDeploy:
			b.Deploys = append(b.Deploys, common.BytesToHash(field))
		case fieldPostStateHash:
			b.PostStateHash = common.BytesToHash(field)
		case fieldBond:
			bond, err := decodeBond(field)
			if err != nil {
				return true, err
			}
			b.Bonds = append(b.Bonds, bond)
		case fieldIsBookingBlock:
			return false, nil // handled by varint branch below
		case fieldIsSwitchBlock:
			return false, nil
		default:
			return false, nil
		}
		return true, nil
	}, func(num protowire.Number, v uint64) {
		switch num {
		case fieldIsBookingBlock:
			b.IsBookingBlock = v != 0
		case fieldIsSwitchBlock:
			b.IsSwitchBlock = v != 0
		}
	})
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("message: %d trailing bytes after block", len(rest))
	}
	return b, nil
}

// DecodeBallot parses the wire bytes produced by (*Ballot).SignedPayload.
func DecodeBallot(buf []byte) (*Ballot, error) {
	v := &Ballot{}
	rest, err := decodeHeaderFieldsInto(&v.Header, buf, func(num protowire.Number, typ protowire.Type, field []byte) (bool, error) {
		switch num {
		case fieldTarget:
			v.Target = common.BytesToHash(field)
		case fieldPostStateHash:
			v.PostStateHash = common.BytesToHash(field)
		case fieldBond:
			bond, err := decodeBond(field)
			if err != nil {
				return true, err
			}
			v.Bonds = append(v.Bonds, bond)
		default:
			return false, nil
		}
		return true, nil
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("message: %d trailing bytes after ballot", len(rest))
	}
	return v, nil
}

func decodeBond(field []byte) (Bond, error) {
	var bond Bond
	for len(field) > 0 {
		num, typ, n := protowire.ConsumeTag(field)
		if n < 0 {
			return bond, protowire.ParseError(n)
		}
		field = field[n:]
		switch num {
		case subfieldBondValidator:
			v, n := protowire.ConsumeBytes(field)
			if n < 0 {
				return bond, protowire.ParseError(n)
			}
			bond.Validator = append(common.PublicKey(nil), v...)
			field = field[n:]
		case subfieldBondStake:
			v, n := protowire.ConsumeVarint(field)
			if n < 0 {
				return bond, protowire.ParseError(n)
			}
			bond.Stake = v
			field = field[n:]
		default:
			n := skipField(typ, field)
			if n < 0 {
				return bond, fmt.Errorf("message: cannot skip bond subfield %d", num)
			}
			field = field[n:]
		}
	}
	return bond, nil
}

// decodeHeaderFieldsInto consumes the common header fields (and, for any
// field number not in that set, delegates to extra/extraVarint so callers
// can layer type-specific fields on top) and returns the unconsumed tail
// (always empty for well-formed input; non-empty signals trailing garbage).
func decodeHeaderFieldsInto(
	h *Header,
	buf []byte,
	extra func(num protowire.Number, typ protowire.Type, field []byte) (bool, error),
	extraVarint func(num protowire.Number, v uint64),
) ([]byte, error) {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		if typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			buf = buf[n:]
			switch num {
			case fieldSeqNum:
				h.ValidatorMsgSeqNum = v
			case fieldRoundID:
				h.RoundID = v
			case fieldTimestampUnixNano:
				h.Timestamp = time.Unix(0, int64(v)).UTC()
			default:
				if extraVarint != nil {
					extraVarint(num, v)
				}
			}
			continue
		}

		field, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case fieldValidatorID:
			h.ValidatorID = append(common.PublicKey(nil), field...)
		case fieldPrevHash:
			h.ValidatorPrevMessageHash = common.BytesToHash(field)
		case fieldParent:
			h.Parents = append(h.Parents, common.BytesToHash(field))
		case fieldJustification:
			j, err := decodeJustification(field)
			if err != nil {
				return nil, err
			}
			h.Justifications = append(h.Justifications, j)
		case fieldEraID:
			h.EraID = common.BytesToHash(field)
		default:
			if extra != nil {
				if _, err := extra(num, typ, field); err != nil {
					return nil, err
				}
			}
		}
	}
	return buf, nil
}

func decodeJustification(field []byte) (Justification, error) {
	var j Justification
	for len(field) > 0 {
		num, _, n := protowire.ConsumeTag(field)
		if n < 0 {
			return j, protowire.ParseError(n)
		}
		field = field[n:]
		v, n := protowire.ConsumeBytes(field)
		if n < 0 {
			return j, protowire.ParseError(n)
		}
		field = field[n:]
		switch num {
		case subfieldJustificationValidator:
			j.Validator = append(common.PublicKey(nil), v...)
		case subfieldJustificationHash:
			j.LatestMessage = common.BytesToHash(v)
		}
	}
	return j, nil
}

func skipField(typ protowire.Type, buf []byte) int {
	switch typ {
	case protowire.VarintType:
		_, n := protowire.ConsumeVarint(buf)
		return n
	case protowire.BytesType:
		_, n := protowire.ConsumeBytes(buf)
		return n
	case protowire.Fixed32Type:
		_, n := protowire.ConsumeFixed32(buf)
		return n
	case protowire.Fixed64Type:
		_, n := protowire.ConsumeFixed64(buf)
		return n
	default:
		return -1
	}
}
