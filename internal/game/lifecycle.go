package game

// KeywordLifecycle drives a participant's keyword through
// PENDING -> USED -> DIGESTED, or USED -> CAUGHT -> (new keyword) PENDING.
type KeywordLifecycle struct {
	bank *KeywordBank
}

func NewKeywordLifecycle(bank *KeywordBank) *KeywordLifecycle {
	return &KeywordLifecycle{bank: bank}
}

// MarkUsed moves a PENDING keyword to USED. Any other status is left alone.
func (kl *KeywordLifecycle) MarkUsed(p *Participant) bool {
	if p.Keyword == nil || p.KeywordStatus != KeywordPending {
		return false
	}
	p.KeywordStatus = KeywordUsed
	p.KeywordsUsed++
	return true
}

// MarkCaught forces CAUGHT whatever the prior status. Scoring belongs to the
// guess resolver.
func (kl *KeywordLifecycle) MarkCaught(p *Participant) {
	p.KeywordStatus = KeywordCaught
}

// MarkDigested moves a USED keyword to DIGESTED. It only fires once per
// keyword since the status no longer matches afterwards.
func (kl *KeywordLifecycle) MarkDigested(p *Participant) bool {
	if p.Keyword == nil || p.KeywordStatus != KeywordUsed {
		return false
	}
	p.KeywordStatus = KeywordDigested
	p.KeywordsDigested++
	return true
}

// AssignNew draws a fresh keyword foreign to target and resets the status to
// PENDING. On failure the participant is unchanged.
func (kl *KeywordLifecycle) AssignNew(r Rand, p *Participant, target Genre, difficulty Difficulty) (Keyword, error) {
	k, err := kl.bank.Draw(r, target, difficulty)
	if err != nil {
		return Keyword{}, err
	}
	p.Keyword = &k
	p.KeywordStatus = KeywordPending
	return k, nil
}
