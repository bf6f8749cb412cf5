// Package router implements the subscription table an inbound PUBLISH is
// matched against: exact-filter storage, MQTT wildcard matching, and
// no-local suppression. It is grounded on the wildcard matcher in the
// root package's topic.go, duplicated here (not imported) so this package
// stays free of a dependency on the public API it is wired into.
package router

import "strings"

// Record is one installed subscription.
type Record struct {
	Filter  string
	QoS     uint8
	NoLocal bool

	// Handler, if non-nil, is the per-filter sink supplied on Subscribe,
	// invoked in addition to the caller's global message delegate.
	Handler func(topic string, payload []byte)
}

// Router holds the live subscription set for one session. It is not safe
// for concurrent use without external synchronization; callers serialize
// access the same way they serialize the rest of the reactor's state.
type Router struct {
	records map[string]*Record
}

// New builds an empty Router.
func New() *Router {
	return &Router{records: make(map[string]*Record)}
}

// Install records a successfully-granted subscription. Called once per
// filter after a successful (non-failure-coded) SUBACK entry; a filter
// whose SUBACK code was >= 0x80 must not be installed.
func (r *Router) Install(rec Record) {
	cp := rec
	r.records[rec.Filter] = &cp
}

// Remove drops a filter, called on UNSUBACK. A session reset that
// surfaces SessionLost drops the whole subscription set through Clear.
func (r *Router) Remove(filter string) {
	delete(r.records, filter)
}

// Clear drops every installed filter.
func (r *Router) Clear() {
	r.records = make(map[string]*Record)
}

// Has reports whether filter is currently installed.
func (r *Router) Has(filter string) bool {
	_, ok := r.records[filter]
	return ok
}

// Len reports the number of installed filters.
func (r *Router) Len() int {
	return len(r.records)
}

// Get returns the record installed for filter, if any.
func (r *Router) Get(filter string) (Record, bool) {
	rec, ok := r.records[filter]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Match returns every installed record whose filter matches topic,
// honoring no-local suppression when local is true (the message was
// published by this same client). The caller is responsible for invoking
// each returned Record's Handler plus its own global message delegate
// exactly once; Match only decides which filters matched.
func (r *Router) Match(topic string, local bool) []Record {
	var out []Record
	for _, rec := range r.records {
		if rec.NoLocal && local {
			continue
		}
		if matchTopic(rec.Filter, topic) {
			out = append(out, *rec)
		}
	}
	return out
}

// matchTopic reports whether topic matches filter under MQTT wildcard
// rules: '+' matches exactly one level, '#' matches zero or more trailing
// levels (only legal as the final level), and a filter starting with '+'
// or '#' never matches a topic starting with '$'.
func matchTopic(filter, topic string) bool {
	if len(topic) > 0 && topic[0] == '$' {
		if len(filter) > 0 && (filter[0] == '+' || filter[0] == '#') {
			return false
		}
	}

	fIdx, tIdx := 0, 0
	fLen, tLen := len(filter), len(topic)

	for fIdx <= fLen {
		var fLevel string
		var fNext int
		if idx := strings.IndexByte(filter[fIdx:], '/'); idx >= 0 {
			fNext = fIdx + idx
			fLevel = filter[fIdx:fNext]
		} else {
			fNext = fLen
			fLevel = filter[fIdx:]
		}

		if fLevel == "#" {
			return true
		}

		if tIdx > tLen {
			return false
		}

		var tLevel string
		var tNext int
		if idx := strings.IndexByte(topic[tIdx:], '/'); idx >= 0 {
			tNext = tIdx + idx
			tLevel = topic[tIdx:tNext]
		} else {
			tNext = tLen
			tLevel = topic[tIdx:]
		}

		if fLevel != "+" && fLevel != tLevel {
			return false
		}

		if fNext == fLen {
			fIdx = fLen + 1
		} else {
			fIdx = fNext + 1
		}

		if tNext == tLen {
			tIdx = tLen + 1
		} else {
			tIdx = tNext + 1
		}
	}

	return tIdx > tLen
}
