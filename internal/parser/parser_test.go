package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/coderag/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSource = `package testpkg

import (
	"fmt"
)

// User represents a user in the system
type User struct {
	ID   int
	Name string
}

// GetName returns the user's name
func (u *User) GetName() string {
	return u.Name
}

// NewUser creates a new user
func NewUser(id int, name string) *User {
	return &User{ID: id, Name: name}
}

const (
	MaxUsers = 10
	MinUsers = 1
)

func describe(u User) (s string, err error) {
	return fmt.Sprint(u), nil
}
`

func TestNew(t *testing.T) {
	p := New()
	assert.NotNil(t, p)
}

func TestParseSource_RetainsNothingBetweenCalls(t *testing.T) {
	p := New()
	var first *types.ParseResult
	for i := range 50 {
		result := p.ParseSource(fmt.Sprintf("file%d.go", i), []byte(sampleSource))
		require.False(t, result.HasErrors())
		if first == nil {
			first = result
			continue
		}
		assert.Equal(t, first.Declarations, result.Declarations)
	}
	assert.Equal(t, &Parser{}, p)
}

func TestParseSource_Declarations(t *testing.T) {
	p := New()
	result := p.ParseSource("user.go", []byte(sampleSource))

	require.False(t, result.HasErrors())
	assert.Equal(t, "testpkg", result.PackageName)
	require.Len(t, result.Declarations, 5)

	user := result.Declarations[0]
	assert.Equal(t, "User", user.Name)
	assert.Equal(t, types.ChunkClass, user.Kind)
	assert.Equal(t, 7, user.StartLine, "doc comment is part of the declaration")
	assert.Equal(t, 11, user.EndLine)
	assert.Equal(t, "type User struct", user.Signature)

	getName := result.Declarations[1]
	assert.Equal(t, "GetName", getName.Name)
	assert.Equal(t, types.ChunkMethod, getName.Kind)
	assert.Equal(t, "User", getName.Parent)
	assert.Equal(t, "func (*User) GetName() string", getName.Signature)
	assert.Equal(t, 13, getName.StartLine)
	assert.Equal(t, 16, getName.EndLine)

	newUser := result.Declarations[2]
	assert.Equal(t, types.ChunkFunction, newUser.Kind)
	assert.Empty(t, newUser.Parent)
	assert.Equal(t, "func NewUser(id int, name string) *User", newUser.Signature)

	consts := result.Declarations[3]
	assert.Equal(t, types.ChunkTopLevel, consts.Kind)
	assert.Equal(t, "MaxUsers", consts.Name)
	assert.Equal(t, "const MaxUsers, MinUsers", consts.Signature)
	assert.Equal(t, 23, consts.StartLine)
	assert.Equal(t, 26, consts.EndLine)

	describe := result.Declarations[4]
	assert.Equal(t, "func describe(u User) (s string, err error)", describe.Signature)
}

func TestParseSource_GroupedTypes(t *testing.T) {
	src := `package p

type (
	// A is first
	A int
	B struct{}
)
`
	result := New().ParseSource("g.go", []byte(src))
	require.Len(t, result.Declarations, 2)
	assert.Equal(t, "A", result.Declarations[0].Name)
	assert.Equal(t, 4, result.Declarations[0].StartLine)
	assert.Equal(t, 5, result.Declarations[0].EndLine)
	assert.Equal(t, "type A int", result.Declarations[0].Signature)
	assert.Equal(t, "B", result.Declarations[1].Name)
	assert.Equal(t, 6, result.Declarations[1].StartLine)
}

func TestParseSource_GenericReceiver(t *testing.T) {
	src := `package p

type Box[T any] struct{ v T }

func (b *Box[T]) Get() T { return b.v }
`
	result := New().ParseSource("box.go", []byte(src))
	require.Len(t, result.Declarations, 2)
	assert.Equal(t, "Box", result.Declarations[1].Parent)
}

func TestParseSource_SyntaxError(t *testing.T) {
	src := `package broken

func ok() {}

func broken( {
`
	result := New().ParseSource("broken.go", []byte(src))
	assert.True(t, result.HasErrors())
	assert.Equal(t, "broken", result.PackageName)
}

func TestParseFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "user.go")
	require.NoError(t, os.WriteFile(path, []byte(sampleSource), 0644))

	result, err := New().ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, result.Declarations, 5)
}

func TestParseFile_Missing(t *testing.T) {
	_, err := New().ParseFile(filepath.Join(t.TempDir(), "nope.go"))
	assert.Error(t, err)
}
