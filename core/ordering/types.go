package ordering

// Hash is a 256-bit content digest, used both as a transaction's full hash
// and as a transaction's reduced hash (payload only, signatures excluded).
type Hash [32]byte

// AccountID identifies a transaction creator.
type AccountID string

// BatchType distinguishes commit-together batches from independently
// orderable ones.
type BatchType int

const (
	// BatchAtomic batches commit or reject together as a unit.
	BatchAtomic BatchType = iota
	// BatchOrdered batches are proposed together but each transaction's
	// fate is independent.
	BatchOrdered
)

// Signature is an opaque signature blob together with the signer that
// produced it. The cryptographic primitive library that verifies these is
// out of scope for this package (spec §1); Signature is carried as data.
type Signature struct {
	Signer AccountID
	Blob   []byte
}

// Transaction is an opaque, hash-identified ledger object.
type Transaction struct {
	FullHash    Hash
	ReducedHash Hash
	Creator     AccountID
	CreatedAtMS int64
	Quorum      uint32
	Signatures  []Signature
}

// SignatureCount returns the number of distinct signers recorded so far.
func (t *Transaction) SignatureCount() int {
	seen := make(map[AccountID]struct{}, len(t.Signatures))
	for _, s := range t.Signatures {
		seen[s.Signer] = struct{}{}
	}
	return len(seen)
}

// HasQuorum reports whether t has collected at least its required quorum of
// distinct signatures.
func (t *Transaction) HasQuorum() bool {
	if t.Quorum == 0 {
		return true
	}
	return uint32(t.SignatureCount()) >= t.Quorum
}

// mergeSignatures returns the union of t's signatures with other's,
// deduplicated by (signer, blob) pair. The first-seen copy for a given
// signer/blob pair is kept.
func mergeSignatures(a, b []Signature) []Signature {
	type key struct {
		signer AccountID
		blob   string
	}
	seen := make(map[key]struct{}, len(a)+len(b))
	out := make([]Signature, 0, len(a)+len(b))
	add := func(sigs []Signature) {
		for _, s := range sigs {
			k := key{s.Signer, string(s.Blob)}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, s)
		}
	}
	add(a)
	add(b)
	return out
}

// BatchMeta carries the ordered list of reduced hashes for a multi-
// transaction batch, plus its commit semantics. It is optional for
// single-transaction batches.
type BatchMeta struct {
	ReducedHashes []Hash
	Type          BatchType
}

// Batch is an ordered, non-empty sequence of transactions proposed as a
// unit. Identity for MST deduplication purposes is the ordered reduced-hash
// list in Meta (when present) or, for a single-transaction batch without
// Meta, the transaction's own reduced hash.
type Batch struct {
	Transactions []*Transaction
	Meta         *BatchMeta
}

// Identity returns the batch's MST identity key: the ordered reduced-hash
// sequence, ignoring signatures.
func (b *Batch) Identity() string {
	hashes := b.reducedHashes()
	buf := make([]byte, 0, len(hashes)*32)
	for _, h := range hashes {
		buf = append(buf, h[:]...)
	}
	return string(buf)
}

func (b *Batch) reducedHashes() []Hash {
	if b.Meta != nil {
		return b.Meta.ReducedHashes
	}
	hashes := make([]Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = tx.ReducedHash
	}
	return hashes
}

// IsComplete reports whether every transaction in the batch has reached its
// required signature quorum.
func (b *Batch) IsComplete() bool {
	for _, tx := range b.Transactions {
		if !tx.HasQuorum() {
			return false
		}
	}
	return true
}

// IsExpiredAt reports whether every transaction in the batch was created
// before t - expiry, i.e. the whole batch is stale.
func (b *Batch) IsExpiredAt(nowMS int64, expiryMS int64) bool {
	cutoff := nowMS - expiryMS
	for _, tx := range b.Transactions {
		if tx.CreatedAtMS >= cutoff {
			return false
		}
	}
	return true
}

// HasAnySignature reports whether at least one contained transaction
// carries at least one signature — the admission requirement for a fresh
// batch (spec §3).
func (b *Batch) HasAnySignature() bool {
	for _, tx := range b.Transactions {
		if len(tx.Signatures) > 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep-enough copy of b suitable for independent mutation
// of the signature sets (transactions are copied; Meta's slice is shared
// since it is treated as immutable once constructed).
func (b *Batch) Clone() *Batch {
	txs := make([]*Transaction, len(b.Transactions))
	for i, tx := range b.Transactions {
		cp := *tx
		cp.Signatures = append([]Signature(nil), tx.Signatures...)
		txs[i] = &cp
	}
	return &Batch{Transactions: txs, Meta: b.Meta}
}

// mergeInto unions other's signatures into b's matching transactions (by
// reduced hash, positionally) and reports whether any transaction's
// signature set strictly grew.
func (b *Batch) mergeInto(other *Batch) (updated bool) {
	for i, tx := range b.Transactions {
		if i >= len(other.Transactions) {
			break
		}
		before := len(tx.Signatures)
		tx.Signatures = mergeSignatures(tx.Signatures, other.Transactions[i].Signatures)
		if len(tx.Signatures) != before {
			updated = true
		}
	}
	return updated
}

// Proposal is an immutable candidate ordered transaction list for a round.
type Proposal struct {
	Height       uint64
	CreatedAtMS  int64
	Transactions []*Transaction
}

// WithTransactions returns a new proposal at the same height and creation
// time carrying a different (e.g. replay-stripped) transaction list.
func (p *Proposal) WithTransactions(txs []*Transaction) *Proposal {
	return &Proposal{Height: p.Height, CreatedAtMS: p.CreatedAtMS, Transactions: txs}
}
