// Package store persists recorded sessions.
package store

import (
	"context"
	"errors"

	"github.com/srg/heartflot/internal/session"
)

// ErrNotFound is returned by Get for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Store is a durable, newest-first collection of sessions. Implementations
// serialize mutations so concurrent read-modify-write never loses updates.
type Store interface {
	// Append adds s as the newest session.
	Append(ctx context.Context, s session.Session) error
	// Update applies fn to the session with id. An unknown id is a no-op.
	Update(ctx context.Context, id string, fn func(*session.Session)) error
	// Delete removes the session with id. An unknown id is a no-op.
	Delete(ctx context.Context, id string) error
	// List returns every session, newest first.
	List(ctx context.Context) ([]session.Session, error)
	// Clear removes every session.
	Clear(ctx context.Context) error
}

// Get returns the session with id from st.
func Get(ctx context.Context, st Store, id string) (session.Session, error) {
	sessions, err := st.List(ctx)
	if err != nil {
		return session.Session{}, err
	}
	for _, s := range sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return session.Session{}, ErrNotFound
}

// mutate applies the shared edit semantics to an in-memory list.
type mutation func([]session.Session) []session.Session

func appendOp(s session.Session) mutation {
	return func(list []session.Session) []session.Session {
		return append([]session.Session{s}, list...)
	}
}

func updateOp(id string, fn func(*session.Session)) mutation {
	return func(list []session.Session) []session.Session {
		for i := range list {
			if list[i].ID == id {
				fn(&list[i])
				break
			}
		}
		return list
	}
}

func deleteOp(id string) mutation {
	return func(list []session.Session) []session.Session {
		out := list[:0]
		for _, s := range list {
			if s.ID != id {
				out = append(out, s)
			}
		}
		return out
	}
}

func clearOp() mutation {
	return func([]session.Session) []session.Session { return nil }
}

func clone(list []session.Session) []session.Session {
	out := make([]session.Session, len(list))
	copy(out, list)
	return out
}
