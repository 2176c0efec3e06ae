package sqlitedb

// linkTargets maps columns that hold ids of rows in another table to that
// table. iterationIdsJsonList holds a JSON array of ids rather than one id.
var linkTargets = map[string]string{
	"eventId":              "Event",
	"event_id":             "Event",
	"iterationIdsJsonList": "Iteration",
}

// Links returns the referenced table of every column in columns that links
// to a table present in tables. Values of a linked column resolve through
// Lookup on the returned table.
func Links(columns, tables []string) map[string]string {
	present := make(map[string]bool, len(tables))
	for _, t := range tables {
		present[t] = true
	}

	links := make(map[string]string)
	for _, col := range columns {
		if target, ok := linkTargets[col]; ok && present[target] {
			links[col] = target
		}
	}
	return links
}
