package beam

import "sort"

// sortByAvgLogProb stable-sorts hypotheses by descending average log
// probability. Stability is the only tie-break: equally scored candidates
// keep their expansion order.
func sortByAvgLogProb(hyps []*Hypothesis) {
	sort.SliceStable(hyps, func(i, j int) bool {
		return hyps[i].AvgLogProb() > hyps[j].AvgLogProb()
	})
}

// selectNext routes the sorted candidates into the next beam and the
// completed set. A stop-token candidate completes only at step >= MinSteps;
// a premature stop is discarded outright. The scan breaks as soon as either
// pool reaches BeamWidth, discarding everything below the cutoff: early
// low-quality completions can end the scan before better-ranked
// continuations are seen. That is the bounded-search tradeoff the decoder
// is built around, kept as is.
func (s *Searcher) selectNext(candidates []*Hypothesis, step int) (next, completed []*Hypothesis) {
	sortByAvgLogProb(candidates)

	stopID := s.vocab.WordToID(stopWord)
	next = make([]*Hypothesis, 0, s.cfg.BeamWidth)
	completed = make([]*Hypothesis, 0, s.cfg.BeamWidth)

	for _, h := range candidates {
		if h.LatestToken() == stopID {
			if step >= s.cfg.MinSteps {
				completed = append(completed, h)
			}
		} else {
			next = append(next, h)
		}
		if len(next) == s.cfg.BeamWidth || len(completed) == s.cfg.BeamWidth {
			break
		}
	}
	return next, completed
}
