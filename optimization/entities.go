package optimization

import (
	"time"

	"github.com/wippyai/testopt/abi"
	"github.com/wippyai/testopt/marshal"
)

// Module is a test framework invocation within a session
type Module struct {
	session *Session
	entity
}

// Session returns the session the module was created in
func (m Module) Session() *Session { return m.session }

// CreateSuite opens a suite stamped with the session clock
func (m Module) CreateSuite(name string) Suite {
	return m.CreateSuiteAt(name, m.c.clock())
}

func (m Module) CreateSuiteAt(name string, start time.Time) Suite {
	id := m.c.child(abi.EntitySuite.Export(abi.OpCreate), m.id, func(s *marshal.Scope) ([]uint64, error) {
		return nameAndTime(s, name, start)
	})
	return Suite{module: m, entity: entity{c: m.c, kind: abi.EntitySuite, id: id}}
}

// Close finishes the module. Closing never affects the parent session.
func (m Module) Close() bool { return m.closeAt(m.c.clock()) }

func (m Module) CloseAt(finish time.Time) bool { return m.closeAt(finish) }

// Suite groups tests, typically one source file
type Suite struct {
	module Module
	entity
}

// Module returns the module the suite was created in
func (s Suite) Module() Module { return s.module }

func (s Suite) CreateTest(name string) Test {
	return s.CreateTestAt(name, s.c.clock())
}

func (s Suite) CreateTestAt(name string, start time.Time) Test {
	id := s.c.child(abi.EntityTest.Export(abi.OpCreate), s.id, func(sc *marshal.Scope) ([]uint64, error) {
		return nameAndTime(sc, name, start)
	})
	return Test{suite: s, entity: entity{c: s.c, kind: abi.EntityTest, id: id}}
}

// SetSource associates a source file and optional line bounds
func (s Suite) SetSource(file string, startLine, endLine *int32) bool {
	return s.setSource(file, startLine, endLine)
}

func (s Suite) Close() bool { return s.closeAt(s.c.clock()) }

func (s Suite) CloseAt(finish time.Time) bool { return s.closeAt(finish) }

func nameAndTime(s *marshal.Scope, name string, t time.Time) ([]uint64, error) {
	args, err := strs(s, "name", name)
	if err != nil {
		return nil, err
	}
	ts, err := stamp(s, t)
	return append(args, ts), err
}
