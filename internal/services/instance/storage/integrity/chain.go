// Package integrity links journal records into a hash chain and optionally
// signs each link, so replay can detect edited, reordered or foreign records.
package integrity

import (
	"fmt"

	"github.com/louisbranch/casework/internal/services/instance/domain/event"
)

// Seal assigns seq and fills the hash, chain and signature fields of evt.
// prevChainHash is the chain hash of the previous record, empty for the first.
// A nil keyring leaves the record unsigned.
func Seal(evt event.Event, seq uint64, prevChainHash string, keyring *Keyring) (event.Event, error) {
	evt.Seq = seq
	hash, err := event.EventHash(evt)
	if err != nil {
		return event.Event{}, fmt.Errorf("compute event hash: %w", err)
	}
	evt.Hash = hash
	evt.PrevHash = prevChainHash
	chainHash, err := event.ChainHash(evt, prevChainHash)
	if err != nil {
		return event.Event{}, fmt.Errorf("compute chain hash: %w", err)
	}
	evt.ChainHash = chainHash
	evt.Signature = ""
	evt.SignatureKeyID = ""
	if keyring != nil {
		signature, keyID, err := keyring.SignChainHash(evt.InstanceID, chainHash)
		if err != nil {
			return event.Event{}, fmt.Errorf("sign chain hash: %w", err)
		}
		evt.Signature = signature
		evt.SignatureKeyID = keyID
	}
	return evt, nil
}

// Verify recomputes the hashes of a stored record and checks its link to the
// previous record. Signatures are checked when a keyring is configured.
func Verify(evt event.Event, prevChainHash string, keyring *Keyring) error {
	if evt.PrevHash != prevChainHash {
		return fmt.Errorf("seq %d: previous hash does not match chain", evt.Seq)
	}
	hash, err := event.EventHash(evt)
	if err != nil {
		return fmt.Errorf("seq %d: compute event hash: %w", evt.Seq, err)
	}
	if hash != evt.Hash {
		return fmt.Errorf("seq %d: event hash mismatch", evt.Seq)
	}
	chainHash, err := event.ChainHash(evt, prevChainHash)
	if err != nil {
		return fmt.Errorf("seq %d: compute chain hash: %w", evt.Seq, err)
	}
	if chainHash != evt.ChainHash {
		return fmt.Errorf("seq %d: chain hash mismatch", evt.Seq)
	}
	if keyring != nil {
		if evt.Signature == "" {
			return fmt.Errorf("seq %d: record is not signed", evt.Seq)
		}
		if err := keyring.VerifyChainHash(evt.InstanceID, chainHash, evt.Signature, evt.SignatureKeyID); err != nil {
			return fmt.Errorf("seq %d: %w", evt.Seq, err)
		}
	}
	return nil
}
