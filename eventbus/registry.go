package eventbus

import (
	"reflect"
	"sync"

	"github.com/GoCodeAlone/ratevent/internal/typecache"
)

// subscriberSet is a copy-on-write slice of subscribers for one
// declared event type: readers (dispatch, on the hot path) hold the
// lock only long enough to read the current slice, writers
// (Register/Unregister) pay the copy. An in-flight Post sees a
// snapshot of subscribers, never a torn one.
type subscriberSet struct {
	mu   sync.Mutex
	subs []*Subscriber
}

func (s *subscriberSet) snapshot() []*Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs
}

func (s *subscriberSet) add(sub *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]*Subscriber, len(s.subs)+1)
	copy(next, s.subs)
	next[len(s.subs)] = sub
	s.subs = next
}

func (s *subscriberSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]*Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.id != id {
			next = append(next, sub)
		}
	}
	s.subs = next
}

// SubscriberRegistry indexes live subscribers by declared event type
// and answers, for a posted event's concrete type, every subscriber
// whose declared type is satisfied — by exact match, by struct
// embedding ("extends"), or by interface satisfaction ("implements").
// The flattened-embedding computation is cached per concrete type (see
// internal/typecache) since it is pure and immutable for the lifetime
// of a type.
type SubscriberRegistry struct {
	mu         sync.RWMutex
	byType     map[reflect.Type]*subscriberSet
	interfaces map[reflect.Type]*subscriberSet // declared types that are themselves interfaces
	byListener map[Listener][]*Subscriber

	hierarchy *typecache.Cache
}

// NewSubscriberRegistry builds an empty registry.
func NewSubscriberRegistry() *SubscriberRegistry {
	return &SubscriberRegistry{
		byType:     make(map[reflect.Type]*subscriberSet),
		interfaces: make(map[reflect.Type]*subscriberSet),
		byListener: make(map[Listener][]*Subscriber),
		hierarchy:  typecache.New(0),
	}
}

// Register adds every subscriber in subs, indexed by its declared
// event type, and associates them with listener for a later
// Unregister.
func (r *SubscriberRegistry) Register(listener Listener, subs []*Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range subs {
		set := r.setForLocked(sub.eventType)
		set.add(sub)
	}
	r.byListener[listener] = append(r.byListener[listener], subs...)
}

// setForLocked returns (creating if absent) the subscriberSet for t.
// Must be called with mu held.
func (r *SubscriberRegistry) setForLocked(t reflect.Type) *subscriberSet {
	target := r.byType
	if t.Kind() == reflect.Interface {
		target = r.interfaces
	}
	set, ok := target[t]
	if !ok {
		set = &subscriberSet{}
		target[t] = set
	}
	return set
}

// Unregister removes every subscriber previously registered for
// listener. It reports whether listener had any registration to
// remove.
func (r *SubscriberRegistry) Unregister(listener Listener) ([]*Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.byListener[listener]
	if !ok {
		return nil, false
	}
	delete(r.byListener, listener)

	for _, sub := range subs {
		target := r.byType
		if sub.eventType.Kind() == reflect.Interface {
			target = r.interfaces
		}
		if set, ok := target[sub.eventType]; ok {
			set.remove(sub.id)
		}
	}
	return subs, true
}

// MatchFor returns every subscriber whose declared event type is
// satisfied by the runtime type of event: the concrete type, every
// embedded supertype reachable by struct embedding, and every
// registered interface type the event implements.
func (r *SubscriberRegistry) MatchFor(event Event) []*Subscriber {
	concrete := reflect.TypeOf(event)
	if concrete == nil {
		return nil
	}
	deref := concrete
	if deref.Kind() == reflect.Ptr {
		deref = deref.Elem()
	}

	hierarchy := r.hierarchy.GetOrCompute(deref, func() any {
		return flattenedHierarchy(deref)
	}).([]reflect.Type)

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var matched []*Subscriber

	types := hierarchy
	if concrete != deref {
		types = append([]reflect.Type{concrete}, hierarchy...)
	}
	for _, t := range types {
		set, ok := r.byType[t]
		if !ok {
			continue
		}
		for _, sub := range set.snapshot() {
			if !seen[sub.id] {
				seen[sub.id] = true
				matched = append(matched, sub)
			}
		}
	}

	for iface, set := range r.interfaces {
		if !concrete.Implements(iface) && !deref.Implements(iface) {
			continue
		}
		for _, sub := range set.snapshot() {
			if !seen[sub.id] {
				seen[sub.id] = true
				matched = append(matched, sub)
			}
		}
	}

	return matched
}

// flattenedHierarchy returns t and every type reachable from t by
// following anonymous (embedded) fields, depth-first — the Go
// analogue of a single-inheritance class chain, generalized to Go's
// multiple-embedding model.
func flattenedHierarchy(t reflect.Type) []reflect.Type {
	seen := map[reflect.Type]bool{t: true}
	result := []reflect.Type{t}

	var walk func(reflect.Type)
	walk = func(rt reflect.Type) {
		if rt.Kind() != reflect.Struct {
			return
		}
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.Anonymous {
				continue
			}
			ft := f.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if seen[ft] {
				continue
			}
			seen[ft] = true
			result = append(result, ft)
			walk(ft)
		}
	}
	walk(t)
	return result
}
