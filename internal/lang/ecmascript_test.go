package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tsZoo = `interface Named {
  name: string;
}

interface Pet extends Named {
  speak(): string;
}

abstract class Animal {}

export class Dog extends Animal implements Pet {
  private name: string = "rex";

  speak(): string {
    return bark(this.name);
  }
}

export function bark(s: string): string {
  return s + "!";
}

enum Color { Red, Green = 2 }

const wag = (n: number) => n * 2;
let counter = 0;
type Alias = Dog;
`

func TestTypeScript_Declarations(t *testing.T) {
	t.Parallel()
	ex := extract(t, TypeScript, tsZoo)
	assert.False(t, ex.HasErrors)

	dog := findSymbol(t, ex, "Dog", KindClass)
	assert.Equal(t, "public", dog.Visibility)
	findSymbol(t, ex, "Animal", KindClass)
	findSymbol(t, ex, "Named", KindInterface)

	var dogSpeak *Symbol
	for _, s := range symbolsNamed(ex, "speak") {
		s := s
		assert.Equal(t, KindMethod, s.Kind)
		if s.Parent == dog.Local {
			dogSpeak = &s
		}
	}
	require.NotNil(t, dogSpeak)
	assert.Equal(t, "Dog", dogSpeak.Qualifier)

	for _, s := range symbolsNamed(ex, "name") {
		assert.Equal(t, KindProperty, s.Kind)
		if s.Parent == dog.Local {
			assert.Equal(t, "private", s.Visibility)
		} else {
			assert.Equal(t, "public", s.Visibility)
		}
	}

	assert.Equal(t, "public", findSymbol(t, ex, "bark", KindFunction).Visibility)
	wag := findSymbol(t, ex, "wag", KindFunction)
	assert.Equal(t, "private", wag.Visibility)
	findSymbol(t, ex, "counter", KindVariable)
	findSymbol(t, ex, "Alias", KindType)

	color := findSymbol(t, ex, "Color", KindEnum)
	assert.Equal(t, color.Local, findSymbol(t, ex, "Red", KindEnumMember).Parent)
	assert.Equal(t, color.Local, findSymbol(t, ex, "Green", KindEnumMember).Parent)
}

func TestTypeScript_Heritage(t *testing.T) {
	t.Parallel()
	ex := extract(t, TypeScript, tsZoo)

	dog := findSymbol(t, ex, "Dog", KindClass)
	got := map[string]EdgeKind{}
	for _, e := range edgesFrom(ex, dog.Local) {
		got[e.ToName] = e.Kind
	}
	assert.Equal(t, map[string]EdgeKind{"Animal": EdgeExtends, "Pet": EdgeImplements}, got)

	pet := findSymbol(t, ex, "Pet", KindInterface)
	edges := edgesFrom(ex, pet.Local)
	require.Len(t, edges, 1)
	assert.Equal(t, "Named", edges[0].ToName)
	assert.Equal(t, EdgeExtends, edges[0].Kind)
}

func TestTypeScript_References(t *testing.T) {
	t.Parallel()
	ex := extract(t, TypeScript, tsZoo)

	calls := refsNamed(ex, "bark")
	require.Len(t, calls, 1)
	assert.Equal(t, ContextCall, calls[0].Context)
	from := ex.Symbols[calls[0].From]
	assert.Equal(t, "speak", from.Name)

	alias := findSymbol(t, ex, "Alias", KindType)
	var fromAlias bool
	for _, r := range refsNamed(ex, "Dog") {
		if r.From == alias.Local {
			fromAlias = true
			assert.Equal(t, ContextType, r.Context)
		}
	}
	assert.True(t, fromAlias)
}

func TestTSX_UsesTypeScriptAdapter(t *testing.T) {
	t.Parallel()
	src := "export function Button(props: Props) {\n  return <button>{props.label}</button>;\n}\n"
	ex := extract(t, TSX, src)
	assert.False(t, ex.HasErrors)
	findSymbol(t, ex, "Button", KindFunction)
	require.Len(t, refsNamed(ex, "Props"), 1)
}

func TestJavaScript_ClassesAndCalls(t *testing.T) {
	t.Parallel()
	src := `class Base {}

class Widget extends Base {
  #secret = 1;

  render() {
    return helper(this);
  }
}

function helper(w) {
  return new Widget();
}
`
	ex := extract(t, JavaScript, src)
	assert.False(t, ex.HasErrors)

	widget := findSymbol(t, ex, "Widget", KindClass)
	edges := edgesFrom(ex, widget.Local)
	require.Len(t, edges, 1)
	assert.Equal(t, "Base", edges[0].ToName)
	assert.Equal(t, EdgeExtends, edges[0].Kind)

	render := findSymbol(t, ex, "render", KindMethod)
	assert.Equal(t, widget.Local, render.Parent)

	calls := refsNamed(ex, "helper")
	require.Len(t, calls, 1)
	assert.Equal(t, render.Local, calls[0].From)

	ctor := refsNamed(ex, "Widget")
	require.Len(t, ctor, 1)
	assert.Equal(t, ContextCall, ctor[0].Context)
}
