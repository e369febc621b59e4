// Copyright 2024 The go-equa Authors
// This file is part of the go-equa library.

package executor

import (
	"context"
	"fmt"

	"github.com/hwdag/hwnode/errs"
	"github.com/hwdag/hwnode/message"
)

// validate implements §4.2 step 2's full validation: shape, signature,
// seq-num continuity, justifications well-formed, deploy TTLs. It returns
// the failing ValidationSubKind on the first check that fails.
func (e *Executor) validate(ctx context.Context, m message.Message) (errs.ValidationSubKind, error) {
	hdr := m.GetHeader()

	if !hdr.IsGenesis() {
		if hdr.ValidatorID.IsEmpty() {
			return errs.SubKindShape, fmt.Errorf("missing validator id")
		}
		if len(hdr.Parents) == 0 {
			return errs.SubKindShape, fmt.Errorf("non-genesis message has no parents")
		}
	}

	if !hdr.ValidatorID.IsEmpty() {
		if err := message.Verify(m); err != nil {
			return errs.SubKindSignature, err
		}
	}

	if sub, err := e.checkSeqNumContinuity(ctx, m); err != nil {
		return sub, err
	}

	if sub, err := e.checkJustifications(ctx, hdr.Justifications); err != nil {
		return sub, err
	}

	if block, ok := m.(*message.Block); ok {
		if sub, err := e.checkDeployTTLs(ctx, block); err != nil {
			return sub, err
		}
	}

	return 0, nil
}

// checkSeqNumContinuity confirms validatorMsgSeqNum continues from the
// validator's own previous message, per §4.2 step 2.
func (e *Executor) checkSeqNumContinuity(ctx context.Context, m message.Message) (errs.ValidationSubKind, error) {
	hdr := m.GetHeader()
	if hdr.ValidatorMsgSeqNum == 0 {
		if !hdr.ValidatorPrevMessageHash.IsZero() {
			return errs.SubKindShape, fmt.Errorf("seqNum 0 must not cite a previous message")
		}
		return 0, nil
	}
	if hdr.ValidatorPrevMessageHash.IsZero() {
		return errs.SubKindShape, fmt.Errorf("seqNum %d requires a previous message hash", hdr.ValidatorMsgSeqNum)
	}
	prev, ok, err := e.view.Lookup(ctx, hdr.ValidatorPrevMessageHash)
	if err != nil {
		return 0, err
	}
	if !ok {
		return errs.SubKindMissingDep, fmt.Errorf("previous message %s not found", hdr.ValidatorPrevMessageHash.Hex())
	}
	prevHdr := prev.GetHeader()
	if !prevHdr.ValidatorID.Equal(hdr.ValidatorID) {
		return errs.SubKindParents, fmt.Errorf("previous message authored by a different validator")
	}
	if prevHdr.ValidatorMsgSeqNum+1 != hdr.ValidatorMsgSeqNum {
		return errs.SubKindShape, fmt.Errorf("seqNum %d does not continue from previous seqNum %d", hdr.ValidatorMsgSeqNum, prevHdr.ValidatorMsgSeqNum)
	}
	return 0, nil
}

// checkJustifications confirms every cited justification message exists.
func (e *Executor) checkJustifications(ctx context.Context, justifications []message.Justification) (errs.ValidationSubKind, error) {
	for _, j := range justifications {
		ok, err := e.view.Contains(ctx, j.LatestMessage)
		if err != nil {
			return 0, err
		}
		if !ok {
			return errs.SubKindMissingDep, fmt.Errorf("justification %s not found", j.LatestMessage.Hex())
		}
	}
	return 0, nil
}

// checkDeployTTLs implements §4.2 step 2's deploy TTL check: every deploy
// cited by the block must not have expired as of the block's timestamp.
func (e *Executor) checkDeployTTLs(ctx context.Context, block *message.Block) (errs.ValidationSubKind, error) {
	if e.deploys == nil {
		return 0, nil
	}
	for _, h := range block.Deploys {
		d, ok, err := e.deploys(ctx, h)
		if err != nil {
			return 0, err
		}
		if !ok {
			return errs.SubKindMissingDep, fmt.Errorf("deploy %s not found", h.Hex())
		}
		if d.Expired(block.Header.Timestamp) {
			return errs.SubKindTransaction, fmt.Errorf("deploy %s expired before block timestamp", h.Hex())
		}
	}
	return 0, nil
}
