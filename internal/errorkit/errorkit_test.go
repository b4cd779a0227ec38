package errorkit_test

import (
	"errors"
	"fmt"
	"testing"

	"go.llib.dev/testcase"
	"go.llib.dev/testcase/assert"
	"go.llib.dev/testcase/let"

	"github.com/docmap/docmap/internal/errorkit"
)

type ErrType1 struct{}

func (err ErrType1) Error() string { return "ErrType1" }

const ErrExample errorkit.Error = "ErrExample"

func TestError_F(t *testing.T) {
	err := ErrExample.F("foo %s", "bar")
	assert.ErrorIs(t, ErrExample, err)
	assert.Contain(t, err.Error(), "foo bar")
	assert.Contain(t, err.Error(), ErrExample.Error())
}

func TestError_Wrap(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Equal[error](t, ErrExample, ErrExample.Wrap(nil))
	})
	t.Run("typed error", func(t *testing.T) {
		err := ErrExample.Wrap(ErrType1{})
		assert.ErrorIs(t, ErrExample, err)
		assert.True(t, errors.As(err, &ErrType1{}))
	})
}

func TestMerge(t *testing.T) {
	s := testcase.NewSpec(t)

	errs := testcase.Let[[]error](s, nil)
	act := func(t *testcase.T) error {
		return errorkit.Merge(errs.Get(t)...)
	}

	s.When("no error is supplied", func(s *testcase.Spec) {
		errs.Let(s, func(t *testcase.T) []error { return []error{nil, nil} })

		s.Then("it will return with nil", func(t *testcase.T) {
			t.Must.NoError(act(t))
		})
	})

	s.When("a single error value is supplied", func(s *testcase.Spec) {
		expectedErr := let.Error(s)
		errs.Let(s, func(t *testcase.T) []error {
			return []error{nil, expectedErr.Get(t)}
		})

		s.Then("the exact value is returned", func(t *testcase.T) {
			t.Must.Equal(expectedErr.Get(t), act(t))
		})
	})

	s.When("multiple error values are supplied", func(s *testcase.Spec) {
		errs.Let(s, func(t *testcase.T) []error {
			return []error{ErrType1{}, fmt.Errorf("wrapped: %w", ErrExample)}
		})

		s.Then("errors.Is and errors.As find every member", func(t *testcase.T) {
			err := act(t)
			t.Must.ErrorIs(ErrExample, err)
			t.Must.True(errors.As(err, &ErrType1{}))
			t.Must.Contain(err.Error(), "ErrType1")
		})
	})
}

func TestFinish(t *testing.T) {
	var err error
	func() {
		defer errorkit.Finish(&err, func() error { return ErrExample })
	}()
	assert.ErrorIs(t, ErrExample, err)
}

func TestFinishOnError(t *testing.T) {
	var called bool
	func() (rErr error) {
		defer errorkit.FinishOnError(&rErr, func() { called = true })
		return nil
	}()
	assert.False(t, called)

	func() (rErr error) {
		defer errorkit.FinishOnError(&rErr, func() { called = true })
		return ErrExample
	}()
	assert.True(t, called)
}
