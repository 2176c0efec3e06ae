package analytics

// Observation is one decoded event row: a participant reporting an event
// instance at a point in time.
type Observation struct {
	Namespace     string
	CorrelationID string
	Participant   string
	Timestamp     int64 // milliseconds
}

// GroupKey identifies an event instance inside a namespace.
type GroupKey struct {
	Namespace     string
	CorrelationID string
}

func (k GroupKey) String() string {
	return k.Namespace + "|" + k.CorrelationID
}

// Entry is one participant's timestamp within a group.
type Entry struct {
	Participant string
	Timestamp   int64
}

// Group maps participants to timestamps. Entries keep the order in which
// each participant first appeared; a repeated participant overwrites its
// timestamp in place.
type Group struct {
	Key     GroupKey
	entries []Entry
	index   map[string]int
}

func newGroup(key GroupKey) *Group {
	return &Group{Key: key, index: make(map[string]int)}
}

// Set records ts for participant.
func (g *Group) Set(participant string, ts int64) {
	if i, ok := g.index[participant]; ok {
		g.entries[i].Timestamp = ts
		return
	}
	g.index[participant] = len(g.entries)
	g.entries = append(g.entries, Entry{Participant: participant, Timestamp: ts})
}

// Entries returns the participants in first-seen order. The slice must not be modified.
func (g *Group) Entries() []Entry { return g.entries }

// Len returns the number of distinct participants.
func (g *Group) Len() int { return len(g.entries) }

// Groups is the ordered set of groups built from a row sequence.
type Groups struct {
	order []GroupKey
	byKey map[GroupKey]*Group
}

func newGroups() *Groups {
	return &Groups{byKey: make(map[GroupKey]*Group)}
}

func (gs *Groups) getOrCreate(key GroupKey) *Group {
	g, ok := gs.byKey[key]
	if !ok {
		g = newGroup(key)
		gs.byKey[key] = g
		gs.order = append(gs.order, key)
	}
	return g
}

// Get returns the group for key.
func (gs *Groups) Get(key GroupKey) (*Group, bool) {
	g, ok := gs.byKey[key]
	return g, ok
}

// Keys returns group keys in first-seen order.
func (gs *Groups) Keys() []GroupKey { return gs.order }

// Len returns the number of groups.
func (gs *Groups) Len() int { return len(gs.order) }

// Winner is the earliest participant of a group.
type Winner struct {
	Participant string
	Timestamp   int64
}

// Resolution is the output of FindWinners.
type Resolution struct {
	// FirstCounts counts won groups per namespace and participant.
	FirstCounts map[string]map[string]int
	// PerGroup holds the winner of every group with two or more participants.
	PerGroup map[GroupKey]Winner
	// Skipped counts groups left out for having a single participant.
	Skipped int
}

// LagSample is the delay of one participant behind a group's winner.
type LagSample struct {
	CorrelationID string
	Lag           int64
}

// Lags buckets samples by namespace, winner, then the lagging participant.
type Lags map[string]map[string]map[string][]LagSample

func (l Lags) add(namespace, winner, other string, s LagSample) {
	byWinner, ok := l[namespace]
	if !ok {
		byWinner = make(map[string]map[string][]LagSample)
		l[namespace] = byWinner
	}
	byOther, ok := byWinner[winner]
	if !ok {
		byOther = make(map[string][]LagSample)
		byWinner[winner] = byOther
	}
	byOther[other] = append(byOther[other], s)
}

// Summary holds descriptive statistics of one lag distribution. Every field
// is zero for an empty distribution.
type Summary struct {
	Total int     `json:"total"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Med   float64 `json:"med"`
	Stdev float64 `json:"stdev"`
}

// LagSummary pairs the raw and outlier-filtered summaries of one bucket.
type LagSummary struct {
	Default    Summary `json:"default"`
	NoOutliers Summary `json:"noOutliers"`
}

// NamespaceStats is the analytics of one namespace.
type NamespaceStats struct {
	FirstCounts map[string]int                   `json:"firstCounts"`
	Lags        map[string]map[string]LagSummary `json:"lags"`
}

// Result maps namespace to its analytics. Results handed out by the cache
// are shared and must be treated as read-only.
type Result map[string]NamespaceStats
