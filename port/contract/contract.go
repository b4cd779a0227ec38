// Package contract holds the shape of the behavioural test suites
// that every implementation of a docmap port must pass.
package contract

import (
	"testing"

	"go.llib.dev/testcase"
)

// Make creates a fresh instance of the subject under contract.
// It is called once per test case, so each case runs against an isolated subject.
type Make[Subject any] = func(tb testing.TB) Subject

// Contract is a reusable suite describing what a consumer expects from a role interface supplier.
// Adapters run it with testcase.RunSuite.
type Contract interface {
	testcase.Suite
	Test(*testing.T)
	Benchmark(*testing.B)
}
