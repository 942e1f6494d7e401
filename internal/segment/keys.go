package segment

// NoNextStop stands in for the stop after next on a trip's last segment.
const NoNextStop = "undefined"

// DictKey builds a segmentKeyDict key. An empty afterNext means the trip
// ends at next.
func DictKey(routeID, next, afterNext string) string {
	if afterNext == "" {
		afterNext = NoNextStop
	}
	return routeID + "_" + next + "_" + afterNext
}

// keyResolver records the first segment key seen for each route and
// upcoming-stop pair. Later writers never replace it.
type keyResolver struct {
	dict map[string]string
}

func (r *keyResolver) record(routeID, next, afterNext, segmentKey string) bool {
	k := DictKey(routeID, next, afterNext)
	if _, ok := r.dict[k]; ok {
		return false
	}
	r.dict[k] = segmentKey
	return true
}
