// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scope

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrecedence(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		want  int
	}{
		{"global", NewGlobal(), 0},
		{"api", MustAPI("payment"), 10},
		{"environment", MustEnvironment("prod"), 15},
		{"tag default", MustTag("smoke", PrecedenceTag), 20},
		{"tag custom", MustTag("nightly", 42), 42},
		{"composite api+env", MustComposite(MustAPI("payment"), MustEnvironment("prod")), 20},
		{"composite tag+global", MustComposite(MustTag("x", 30), NewGlobal()), 35},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.scope.Precedence())
		})
	}
}

func TestFactoriesRejectMalformed(t *testing.T) {
	_, err := NewAPI("  ")
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = NewEnvironment("")
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = NewTagWithPrecedence("x", -1)
	assert.ErrorIs(t, err, ErrNegativePrecedence)

	inner := MustComposite(MustAPI("a"), MustEnvironment("b"))
	_, err = NewComposite(inner, NewGlobal())
	assert.ErrorIs(t, err, ErrNestedComposite)

	_, err = NewComposite(nil, NewGlobal())
	assert.ErrorIs(t, err, ErrNilScope)

	for _, name := range []string{"a+env:b", "a:b", "x@30", "pay+ment"} {
		_, err = NewAPI(name)
		assert.ErrorIs(t, err, ErrReservedCharacter, name)
		_, err = NewEnvironment(name)
		assert.ErrorIs(t, err, ErrReservedCharacter, name)
		_, err = NewTag(name)
		assert.ErrorIs(t, err, ErrReservedCharacter, name)
	}
}

func TestReservedNamesCannotCollide(t *testing.T) {
	// Each pair would share a canonical ID if names could hold separators.
	composite := MustComposite(MustAPI("a"), MustEnvironment("b"))
	_, err := NewAPI("a+env:b")
	require.ErrorIs(t, err, ErrReservedCharacter)
	assert.Equal(t, "api:a+env:b", composite.ID())

	_, err = NewTag("x@30")
	require.ErrorIs(t, err, ErrReservedCharacter)
	assert.Equal(t, "tag:x@30", MustTag("x", 30).ID())

	r := NewRegistry()
	for _, text := range []string{"api:a:b", "env:a:b", "tag:x@3@4"} {
		_, err := r.Parse(text)
		assert.Error(t, err, text)
	}

	s, err := r.Parse("api:a+env:b")
	require.NoError(t, err)
	assert.Equal(t, TypeComposite, s.Type())
	assert.True(t, Equal(s, composite))
}

func TestEqual(t *testing.T) {
	t.Run("value based", func(t *testing.T) {
		assert.True(t, Equal(MustAPI("x"), MustAPI("x")))
		assert.False(t, Equal(MustAPI("x"), MustAPI("y")))
		assert.False(t, Equal(MustAPI("x"), MustEnvironment("x")))
	})

	t.Run("composite is unordered", func(t *testing.T) {
		ab := MustComposite(MustAPI("payment"), MustEnvironment("prod"))
		ba := MustComposite(MustEnvironment("prod"), MustAPI("payment"))
		assert.True(t, Equal(ab, ba))
		assert.Equal(t, ab.ID(), ba.ID())
	})

	t.Run("tag precedence matters", func(t *testing.T) {
		assert.False(t, Equal(MustTag("x", 20), MustTag("x", 25)))
	})

	t.Run("variant and fields not id", func(t *testing.T) {
		// Zero values bypass the factories and may carry any name.
		forged := API{name: "a+env:b"}
		composite := MustComposite(MustAPI("a"), MustEnvironment("b"))
		assert.Equal(t, composite.ID(), forged.ID())
		assert.False(t, Equal(forged, composite))
		assert.False(t, Equal(composite, forged))
		assert.False(t, Equal(Tag{name: "x@30", precedence: 20}, MustTag("x", 30)))
		assert.True(t, Equal(NewGlobal(), Global{}))
		assert.False(t, Equal(NewGlobal(), nil))
		assert.True(t, Equal(nil, nil))
	})
}

func TestCompare(t *testing.T) {
	scopes := []Scope{
		MustTag("b", 20),
		MustAPI("zeta"),
		NewGlobal(),
		MustTag("a", 20),
		MustAPI("alpha"),
	}
	Sort(scopes)

	ids := make([]string, len(scopes))
	for i, s := range scopes {
		ids[i] = s.ID()
	}
	assert.Equal(t, []string{"global", "api:alpha", "api:zeta", "tag:a", "tag:b"}, ids)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(NewGlobal()))
	assert.NoError(t, Validate(MustComposite(MustAPI("a"), MustTag("t", 3))))
	assert.ErrorIs(t, Validate(API{}), ErrEmptyName)
	assert.ErrorIs(t, Validate(API{name: "a+env:b"}), ErrReservedCharacter)
	assert.ErrorIs(t, Validate(Tag{name: "x@1", precedence: 20}), ErrReservedCharacter)
	assert.ErrorIs(t, Validate(nil), ErrNilScope)
	assert.ErrorIs(t, Validate(Composite{}), ErrNilScope)
}

func TestRegistry_Parse(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		text   string
		wantID string
	}{
		{"global", "global"},
		{"api:payment", "api:payment"},
		{"env:prod", "env:prod"},
		{"environment:prod", "env:prod"},
		{"tag:smoke", "tag:smoke"},
		{"tag:nightly@30", "tag:nightly@30"},
		{"env:prod+api:payment", "api:payment+env:prod"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			s, err := r.Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, s.ID())

			again, err := r.Parse(s.ID())
			require.NoError(t, err)
			assert.True(t, Equal(s, again))
		})
	}

	t.Run("errors", func(t *testing.T) {
		_, err := r.Parse("")
		assert.ErrorIs(t, err, ErrMalformedScope)

		_, err = r.Parse("region:eu")
		assert.ErrorIs(t, err, ErrUnknownFactory)

		_, err = r.Parse("api:a+env:b+tag:c")
		assert.ErrorIs(t, err, ErrNestedComposite)

		_, err = r.Parse("tag:x@high")
		assert.ErrorIs(t, err, ErrMalformedScope)

		_, err = r.Parse("api:")
		assert.ErrorIs(t, err, ErrEmptyName)
	})
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	region := func(arg string) (Scope, error) {
		return NewTagWithPrecedence("region-"+arg, 12)
	}
	require.NoError(t, r.Register("region", region))

	s, err := r.Parse("region:eu")
	require.NoError(t, err)
	assert.Equal(t, 12, s.Precedence())

	err = r.Register("REGION", region)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	err = r.Register("api", region)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	assert.ErrorIs(t, r.Register("x", nil), ErrNilFactory)
	assert.Contains(t, r.Names(), "region")
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- r.Register(fmt.Sprintf("custom%d", i%10), func(arg string) (Scope, error) {
				return NewTag(arg)
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyRegistered)
			dup++
		}
	}
	assert.Equal(t, 10, ok)
	assert.Equal(t, 40, dup)
}
