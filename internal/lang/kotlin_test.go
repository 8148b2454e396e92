package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kotlinZoo = `package zoo

interface Pet {
    fun speak(): String
}

open class Animal

class Dog(val name: String) : Animal(), Pet {
    private var age = 0

    override fun speak(): String {
        return bark(name)
    }
}

fun bark(s: String): String = s + "!"

enum class Color { RED, GREEN }
`

func TestKotlin_Declarations(t *testing.T) {
	t.Parallel()
	ex := extract(t, Kotlin, kotlinZoo)
	assert.False(t, ex.HasErrors)

	pet := findSymbol(t, ex, "Pet", KindInterface)
	assert.Equal(t, "zoo", pet.Qualifier)

	dog := findSymbol(t, ex, "Dog", KindClass)
	assert.Equal(t, "public", dog.Visibility)

	age := findSymbol(t, ex, "age", KindProperty)
	assert.Equal(t, dog.Local, age.Parent)
	assert.Equal(t, "private", age.Visibility)
	assert.Equal(t, dog.Local, findSymbol(t, ex, "name", KindProperty).Parent)

	var dogSpeak bool
	for _, s := range symbolsNamed(ex, "speak") {
		assert.Equal(t, KindMethod, s.Kind)
		if s.Parent == dog.Local {
			dogSpeak = true
			assert.Equal(t, "zoo.Dog", s.Qualifier)
		}
	}
	assert.True(t, dogSpeak)

	findSymbol(t, ex, "bark", KindFunction)
	color := findSymbol(t, ex, "Color", KindEnum)
	assert.Equal(t, color.Local, findSymbol(t, ex, "RED", KindEnumMember).Parent)
}

func TestKotlin_Supertypes(t *testing.T) {
	t.Parallel()
	ex := extract(t, Kotlin, kotlinZoo)
	dog := findSymbol(t, ex, "Dog", KindClass)
	got := map[string]EdgeKind{}
	for _, e := range edgesFrom(ex, dog.Local) {
		got[e.ToName] = e.Kind
	}
	assert.Equal(t, map[string]EdgeKind{"Animal": EdgeExtends, "Pet": EdgeImplements}, got)
}

func TestKotlin_References(t *testing.T) {
	t.Parallel()
	ex := extract(t, Kotlin, kotlinZoo)
	calls := refsNamed(ex, "bark")
	require.Len(t, calls, 1)
	assert.Equal(t, "speak", ex.Symbols[calls[0].From].Name)
	assert.Equal(t, ContextCall, calls[0].Context)
}
