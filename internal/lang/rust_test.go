package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rustZoo = `pub trait Speak: Named {
    fn speak(&self) -> String;
}

pub struct Dog {
    pub name: String,
    age: u32,
}

impl Speak for Dog {
    fn speak(&self) -> String {
        format!("{} barks", self.name)
    }
}

impl Dog {
    pub fn new(name: String) -> Self {
        Dog { name, age: 0 }
    }

    fn rename(&mut self) {
        helper();
        Dog::new(String::new());
    }
}

fn helper() {}

pub enum Size {
    Small,
    Large,
}

mod inner {
    pub const LIMIT: u32 = 3;
}
`

func TestRust_Declarations(t *testing.T) {
	t.Parallel()
	ex := extract(t, Rust, rustZoo)
	assert.False(t, ex.HasErrors)

	speakTrait := findSymbol(t, ex, "Speak", KindTrait)
	assert.Equal(t, "public", speakTrait.Visibility)

	dog := findSymbol(t, ex, "Dog", KindStruct)
	for _, s := range symbolsNamed(ex, "name") {
		if s.Kind == KindProperty {
			assert.Equal(t, "public", s.Visibility)
			assert.Equal(t, dog.Local, s.Parent)
		}
	}
	assert.Equal(t, "private", findSymbol(t, ex, "age", KindProperty).Visibility)

	newFn := findSymbol(t, ex, "new", KindMethod)
	assert.Equal(t, dog.Local, newFn.Parent)
	assert.Equal(t, "Dog", newFn.Qualifier)
	assert.Equal(t, "public", newFn.Visibility)
	assert.Equal(t, "private", findSymbol(t, ex, "rename", KindMethod).Visibility)

	size := findSymbol(t, ex, "Size", KindEnum)
	assert.Equal(t, size.Local, findSymbol(t, ex, "Small", KindEnumMember).Parent)

	limit := findSymbol(t, ex, "LIMIT", KindConst)
	assert.Equal(t, "inner", limit.Qualifier)
	findSymbol(t, ex, "inner", KindModule)
	findSymbol(t, ex, "helper", KindFunction)
}

func TestRust_TraitImpl(t *testing.T) {
	t.Parallel()
	ex := extract(t, Rust, rustZoo)
	speakTrait := findSymbol(t, ex, "Speak", KindTrait)
	dog := findSymbol(t, ex, "Dog", KindStruct)

	edges := edgesFrom(ex, speakTrait.Local)
	require.Len(t, edges, 1)
	assert.Equal(t, "Named", edges[0].ToName)
	assert.Equal(t, EdgeExtends, edges[0].Kind)

	edges = edgesFrom(ex, dog.Local)
	require.Len(t, edges, 1)
	assert.Equal(t, EdgeTraitImpl, edges[0].Kind)
	assert.Equal(t, "Speak", edges[0].ToName)

	var traitMethod, implMethod *Symbol
	for _, s := range symbolsNamed(ex, "speak") {
		s := s
		require.Equal(t, KindMethod, s.Kind)
		switch s.Parent {
		case speakTrait.Local:
			traitMethod = &s
		case dog.Local:
			implMethod = &s
		}
	}
	require.NotNil(t, traitMethod)
	require.NotNil(t, implMethod)
	assert.Equal(t, "public", implMethod.Visibility)

	overrides := edgesFrom(ex, implMethod.Local)
	require.Len(t, overrides, 1)
	assert.Equal(t, EdgeOverrides, overrides[0].Kind)
	assert.Equal(t, "speak", overrides[0].ToName)
	assert.Equal(t, "Speak", overrides[0].ToQualifier)
}

func TestRust_References(t *testing.T) {
	t.Parallel()
	ex := extract(t, Rust, rustZoo)
	rename := findSymbol(t, ex, "rename", KindMethod)

	calls := refsNamed(ex, "helper")
	require.Len(t, calls, 1)
	assert.Equal(t, rename.Local, calls[0].From)

	quals := map[string]bool{}
	for _, r := range refsNamed(ex, "new") {
		assert.Equal(t, ContextCall, r.Context)
		quals[r.Qualifier] = true
	}
	assert.Equal(t, map[string]bool{"Dog": true, "String": true}, quals)
	assert.Empty(t, refsNamed(ex, "Self"))
}
