package analytics

// Resolve partitions observations into groups keyed by namespace and
// correlation id. Within a group the last observation of a participant wins.
func Resolve(observations []Observation) *Groups {
	groups := newGroups()
	for _, o := range observations {
		key := GroupKey{Namespace: o.Namespace, CorrelationID: o.CorrelationID}
		groups.getOrCreate(key).Set(o.Participant, o.Timestamp)
	}
	return groups
}

// FindWinners picks the earliest participant of every group that has at
// least two participants and counts wins per namespace. On equal timestamps
// the participant seen first in the row sequence wins. Single-participant
// groups are only counted in Skipped.
func FindWinners(groups *Groups) Resolution {
	res := Resolution{
		FirstCounts: make(map[string]map[string]int),
		PerGroup:    make(map[GroupKey]Winner),
	}

	for _, key := range groups.Keys() {
		g, _ := groups.Get(key)
		if g.Len() < 2 {
			res.Skipped++
			continue
		}

		entries := g.Entries()
		first := entries[0]
		for _, e := range entries[1:] {
			if e.Timestamp < first.Timestamp {
				first = e
			}
		}

		counts, ok := res.FirstCounts[key.Namespace]
		if !ok {
			counts = make(map[string]int)
			res.FirstCounts[key.Namespace] = counts
		}
		counts[first.Participant]++
		res.PerGroup[key] = Winner{Participant: first.Participant, Timestamp: first.Timestamp}
	}

	return res
}

// ComputeLags collects, for every resolved group, the lag of each
// non-winning participant behind the winner. Groups are visited in
// first-seen order so samples inside a bucket follow the row sequence.
func ComputeLags(groups *Groups, res Resolution) Lags {
	lags := make(Lags)
	for _, key := range groups.Keys() {
		winner, ok := res.PerGroup[key]
		if !ok {
			continue
		}
		g, _ := groups.Get(key)
		for _, e := range g.Entries() {
			if e.Participant == winner.Participant {
				continue
			}
			lags.add(key.Namespace, winner.Participant, e.Participant, LagSample{
				CorrelationID: key.CorrelationID,
				Lag:           e.Timestamp - winner.Timestamp,
			})
		}
	}
	return lags
}
