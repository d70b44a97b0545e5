package ledger

import "github.com/jmerrifield20/docchain/internal/signer"

// SignatureFault describes a record whose signature does not verify.
type SignatureFault struct {
	Sequence  int64  `json:"sequence"`
	VerifyKey string `json:"verify_key"`
	Reason    string `json:"reason"`
}

// AuditSignatures checks every record's signature against its embedded
// verify key. It needs no store or checkpoint access, so an exported chain can
// be audited offline. When trustedKey is non-empty, records signed by any
// other key are reported as well.
func AuditSignatures(records []*Record, trustedKey string) []SignatureFault {
	var faults []SignatureFault
	for _, r := range records {
		sig := r.SignatureBytes()
		switch {
		case sig == nil:
			faults = append(faults, SignatureFault{r.Sequence, r.VerifyKey, "signature is not hex"})
		case !signer.Verify(r.VerifyKey, r.Hash, sig):
			faults = append(faults, SignatureFault{r.Sequence, r.VerifyKey, "signature does not verify"})
		case trustedKey != "" && r.VerifyKey != trustedKey:
			faults = append(faults, SignatureFault{r.Sequence, r.VerifyKey, "signed by an untrusted key"})
		}
	}
	return faults
}

// VerifyRecords runs the store-independent checks of Verify over an exported
// chain: per-record hashes, links, duplicates and sequence continuity. The
// checkpoint cross-check is not possible offline and is skipped.
func VerifyRecords(records []*Record) error {
	if len(records) == 0 {
		return newError(KindEmptyChain, 0, "no records to verify")
	}
	bySeq := make(map[int64]*Record, len(records))
	for _, r := range records {
		bySeq[r.Sequence] = r
	}
	count := int64(len(records))
	for seq := int64(1); seq <= count; seq++ {
		rec, ok := bySeq[seq]
		if !ok {
			return newError(KindMissingSequence, seq, "record %d is missing", seq)
		}
		if err := checkHash(rec); err != nil {
			return err
		}
		if seq == 1 {
			if rec.PrevHash != GenesisPrevHash {
				return newError(KindChainBroken, 1, "genesis record has non-zero prev_hash")
			}
			continue
		}
		if rec.PrevHash != bySeq[seq-1].Hash {
			return newError(KindChainBroken, seq, "record %d does not link to record %d", seq, seq-1)
		}
	}
	if err := checkDuplicates(records); err != nil {
		return err
	}
	return checkContinuity(records, count)
}
